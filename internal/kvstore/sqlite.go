package kvstore

import (
	"context"
	"database/sql"

	"github.com/ichi0g0y/tip-roulette/internal/localdb"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// SQLiteStore persists into the kv_store table of the local database.
// The database handle is owned by the caller; Close does not close it.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	entry, found, err := localdb.GetKVEntry(s.db, key)
	if err != nil {
		return "", false, err
	}
	return entry.Value, found, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return localdb.PutKVEntry(s.db, key, value)
}

// Update は version カラムによる楽観ロックで書き込む
func (s *SQLiteStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for attempt := 1; attempt <= MaxUpdateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, found, err := localdb.GetKVEntry(s.db, key)
		if err != nil {
			return err
		}

		next, err := fn(entry.Value, found)
		if err != nil {
			return err
		}

		version := entry.Version
		if !found {
			version = 0
		}
		ok, err := localdb.CompareAndSwapKVEntry(s.db, key, next, version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		logger.Debug("kv_store version conflict, retrying",
			zap.String("key", key),
			zap.Int("attempt", attempt))
	}

	logger.Warn("kv_store update gave up after retries", zap.String("key", key))
	return ErrConflict
}

func (s *SQLiteStore) Close() error {
	return nil
}
