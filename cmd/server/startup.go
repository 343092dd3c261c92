package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ichi0g0y/tip-roulette/internal/env"
	"github.com/ichi0g0y/tip-roulette/internal/kvstore"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// openStore builds the key-value backend named by KV_BACKEND.
func openStore(ctx context.Context, db *sql.DB, v env.ValueType) (kvstore.Store, error) {
	switch strings.ToLower(v.KVBackend) {
	case "", "sqlite":
		logger.Info("Using sqlite key-value store")
		return kvstore.NewSQLiteStore(db), nil

	case "redis":
		store, err := kvstore.NewRedisStore(ctx, kvstore.RedisOptions{
			Addr:     v.RedisAddr,
			Password: v.RedisPassword,
			DB:       v.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", v.RedisAddr, err)
		}
		logger.Info("Using redis key-value store", zap.String("addr", v.RedisAddr), zap.Int("db", v.RedisDB))
		return store, nil

	case "memory":
		logger.Warn("Using in-memory key-value store, roulette data will be lost on exit")
		return kvstore.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown KV_BACKEND %q", v.KVBackend)
	}
}
