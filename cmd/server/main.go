package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/commands"
	"github.com/ichi0g0y/tip-roulette/internal/env"
	"github.com/ichi0g0y/tip-roulette/internal/localdb"
	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/settings"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"github.com/ichi0g0y/tip-roulette/internal/shared/paths"
	"github.com/ichi0g0y/tip-roulette/internal/status"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
	"github.com/ichi0g0y/tip-roulette/internal/version"
	"github.com/ichi0g0y/tip-roulette/internal/webserver"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	// .env は任意。設定は初回起動時に settings テーブルへ移行される
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env", zap.Error(err))
	}

	logger.Info("Starting tip-roulette server", zap.String("version", version.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	db, err := localdb.SetupDB(paths.GetDBPath())
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer db.Close()

	sm := settings.NewSettingsManager(db)
	if err := sm.MigrateFromEnv(); err != nil {
		logger.Warn("Failed to migrate settings from environment", zap.Error(err))
	}
	if err := sm.InitializeDefaultSettings(); err != nil {
		logger.Fatal("Failed to initialize settings", zap.Error(err))
	}

	// env.LoadEnv must run after DB initialization.
	if err := env.LoadEnv(sm); err != nil {
		logger.Fatal("Failed to load settings", zap.Error(err))
	}
	if env.Value.DebugOutput {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	store, err := openStore(ctx, db, env.Value)
	if err != nil {
		logger.Fatal("Failed to open key-value store", zap.Error(err))
	}
	defer store.Close()

	configs := roulette.NewConfigStore(store)
	if _, err := configs.EnsureDefault(ctx); err != nil {
		logger.Error("Failed to seed default roulette config", zap.Error(err))
	}

	ledger := roulette.NewLedger(store, roulette.WithWinsLimit(env.Value.WinsLimit))
	resolver := roulette.NewResolver(store, roulette.NewSelector(nil), ledger)
	dispatcher := commands.NewDispatcher(configs, ledger, env.Value.AdminUsers)

	hub := webserver.NewHub()
	hub.Start(ctx)
	eventSubStatus := status.NewEventSub(hub)

	twitch := newTwitchBackground(db, env.Value, eventSubStatus)

	processor := tips.NewProcessor(resolver, dispatcher, twitch.notifier(), hub, tips.Options{
		QueueSize:      env.Value.TipQueueSize,
		NoticesEnabled: env.Value.ChatNoticesEnabled,
	})
	processor.Start(ctx)

	server := webserver.New(webserver.Deps{
		Configs:   configs,
		Ledger:    ledger,
		Processor: processor,
		Hub:       hub,
		Tokens:    twitch.tokens,
		EventSub:  eventSubStatus,
		DebugTips: env.Value.DebugOutput,
	})

	port := env.Value.ServerPort
	if port == 0 {
		port = 8080
	}
	if err := server.Start(port); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	twitch.start(ctx, processor)

	logger.Info("Server started",
		zap.Int("port", port),
		zap.String("kv_backend", env.Value.KVBackend),
		zap.Bool("twitch", twitch.tokens != nil),
		zap.String("overlay", fmt.Sprintf("ws://localhost:%d/ws", port)))

	<-ctx.Done()

	logger.Info("Shutting down...")

	twitch.stop()
	processor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	logger.Info("Shutdown complete")
}
