package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/env"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"github.com/ichi0g0y/tip-roulette/internal/status"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
	"github.com/ichi0g0y/tip-roulette/internal/twitchapi"
	"github.com/ichi0g0y/tip-roulette/internal/twitcheventsub"
	"github.com/ichi0g0y/tip-roulette/internal/twitchtoken"
	"go.uber.org/zap"
)

// twitchBackground owns the OAuth token, chat client and EventSub connection.
// Every field is nil when CLIENT_ID / CLIENT_SECRET / TWITCH_USER_ID are not set.
type twitchBackground struct {
	cfg      env.ValueType
	status   *status.EventSub
	tokens   *twitchtoken.Manager
	chat     *twitchapi.Client
	eventsub *twitcheventsub.Service

	done chan struct{}
	wg   sync.WaitGroup
}

func newTwitchBackground(db *sql.DB, cfg env.ValueType, st *status.EventSub) *twitchBackground {
	tb := &twitchBackground{cfg: cfg, status: st, done: make(chan struct{})}
	if !cfg.TwitchConfigured() {
		logger.Info("Twitch credentials not configured, running with the local API only")
		return tb
	}

	tb.tokens = twitchtoken.NewManager(db, twitchtoken.Config{
		ClientID:     env.Str(cfg.ClientID),
		ClientSecret: env.Str(cfg.ClientSecret),
		RedirectURL:  fmt.Sprintf("http://localhost:%d/callback", cfg.ServerPort),
	})
	tb.chat = twitchapi.NewClient(tb.tokens, twitchapi.Options{
		ClientID:      env.Str(cfg.ClientID),
		BroadcasterID: env.Str(cfg.TwitchUserID),
	})
	return tb
}

// notifier posts notices to chat when Twitch is configured and logs them otherwise.
func (tb *twitchBackground) notifier() tips.Notifier {
	if tb.chat == nil {
		return tips.LogNotifier{}
	}
	return twitchapi.ChatNotifier{Client: tb.chat, DryRun: tb.cfg.DryRunMode}
}

func (tb *twitchBackground) start(ctx context.Context, sink twitcheventsub.Sink) {
	if tb.tokens == nil {
		return
	}

	tb.eventsub = twitcheventsub.NewService(twitcheventsub.Config{
		ClientID:      env.Str(tb.cfg.ClientID),
		BroadcasterID: env.Str(tb.cfg.TwitchUserID),
	}, tb.tokens, sink, tb.status)

	// 認証し直したら新しいトークンで繋ぎ直す
	tb.tokens.OnAuthorized(func(twitchtoken.Token) {
		logger.Info("Twitch authorized, restarting EventSub")
		if err := tb.eventsub.Restart(ctx); err != nil {
			logger.Error("Failed to restart EventSub", zap.Error(err))
		}
	})

	token, valid, err := tb.tokens.GetOrRefreshToken(ctx)
	if err != nil || !valid || token.AccessToken == "" {
		logger.Warn("No valid Twitch token, open /auth to connect",
			zap.Int("port", tb.cfg.ServerPort),
			zap.Error(err))
	} else {
		logger.Info("Valid Twitch token found or refreshed, starting EventSub and token refresh goroutine")
		if err := tb.eventsub.Start(ctx); err != nil {
			logger.Error("Failed to start EventSub", zap.Error(err))
		}
	}

	tb.wg.Add(1)
	go func() {
		defer tb.wg.Done()
		tb.refreshTokenPeriodically(ctx)
	}()
}

func (tb *twitchBackground) stop() {
	close(tb.done)
	if tb.eventsub != nil {
		tb.eventsub.Stop()
	}
	tb.wg.Wait()
}

func sleepOrDone(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		return true
	}
}

func (tb *twitchBackground) refreshTokenPeriodically(ctx context.Context) {
	logger.Info("Starting token refresh goroutine")
	margin := int64(twitchtoken.RefreshMargin / time.Second)

	for {
		select {
		case <-tb.done:
			logger.Info("Stopping token refresh goroutine")
			return
		default:
		}

		token, _, err := tb.tokens.GetLatestToken()
		if err != nil {
			if !sleepOrDone(tb.done, 1*time.Minute) {
				return
			}
			continue
		}

		timeUntilExpiry := token.ExpiresAt - time.Now().Unix()

		if timeUntilExpiry <= margin {
			logger.Info("Token expires soon, refreshing now",
				zap.Int64("seconds_until_expiry", timeUntilExpiry))
			if _, err := tb.tokens.RefreshTwitchToken(ctx); err != nil {
				logger.Error("Failed to refresh token", zap.Error(err))
				if !sleepOrDone(tb.done, 5*time.Minute) {
					return
				}
				continue
			}
			logger.Info("Token refreshed successfully")
			if err := tb.eventsub.Restart(ctx); err != nil {
				logger.Error("Failed to restart EventSub", zap.Error(err))
			}
			continue
		}

		sleepDuration := time.Duration(timeUntilExpiry-margin) * time.Second
		if sleepDuration > time.Hour {
			sleepDuration = time.Hour
		}
		logger.Debug("Next token refresh check",
			zap.Duration("sleep_duration", sleepDuration),
			zap.Int64("seconds_until_expiry", timeUntilExpiry))
		if !sleepOrDone(tb.done, sleepDuration) {
			return
		}
	}
}
