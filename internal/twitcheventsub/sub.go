package twitcheventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ichi0g0y/tip-roulette/internal/status"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"github.com/joeyak/go-twitch-eventsub/v3"
	"go.uber.org/zap"
)

// TokenSource hands out a current user access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

var ErrNotConfigured = errors.New("eventsub requires CLIENT_ID and TWITCH_USER_ID")

// events are the subscriptions the roulette needs.
var events = []twitch.EventSubscription{
	twitch.SubChannelCheer,
	twitch.SubChannelChatMessage,
}

// テストで差し替える
var subscribeEvent = func(req twitch.SubscribeRequest) error {
	_, err := twitch.SubscribeEvent(req)
	return err
}

type Config struct {
	ClientID      string
	BroadcasterID string
}

// Service receives cheers and chat messages over EventSub and hands them to the sink.
type Service struct {
	cfg    Config
	tokens TokenSource
	sink   Sink
	status *status.EventSub

	mu      sync.Mutex
	client  *twitch.Client
	running bool
}

func NewService(cfg Config, tokens TokenSource, sink Sink, st *status.EventSub) *Service {
	if st == nil {
		st = status.NewEventSub(nil)
	}
	return &Service{cfg: cfg, tokens: tokens, sink: sink, status: st}
}

// Start connects to EventSub in the background. Calling Start while running does nothing.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.ClientID == "" || s.cfg.BroadcasterID == "" {
		return ErrNotConfigured
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	if token == "" {
		return errors.New("no access token available")
	}

	client := twitch.NewClient()
	s.setupHandlers(ctx, client)

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.client = client
	s.running = true
	s.mu.Unlock()

	go func() {
		logger.Info("Connecting to EventSub...")
		if err := client.Connect(); err != nil {
			logger.Error("Failed to connect EventSub", zap.Error(err))
			s.status.SetConnected(false, err)
		}
		s.mu.Lock()
		if s.client == client {
			s.running = false
			s.client = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop closes the EventSub connection.
func (s *Service) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.running = false
	s.mu.Unlock()

	if client != nil {
		client.Close()
		s.status.SetConnected(false, nil)
		logger.Info("EventSub stopped")
	}
}

// Restart reconnects with a fresh token, e.g. after the broadcaster authorized again.
func (s *Service) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) setupHandlers(ctx context.Context, client *twitch.Client) {
	client.OnError(func(err error) {
		logger.Error("EventSub error", zap.Error(err))
		s.status.SetConnected(false, err)
	})
	client.OnWelcome(func(message twitch.WelcomeMessage) {
		logger.Info("EventSub connected successfully")
		s.status.SetConnected(true, nil)
		s.subscribeAll(ctx, message.Payload.Session.ID)
	})
	client.OnNotification(func(message twitch.NotificationMessage) {
		if message.Payload.Event == nil {
			return
		}
		s.handleNotification(message.Payload.Subscription.Type, *message.Payload.Event)
	})
	client.OnKeepAlive(func(message twitch.KeepAliveMessage) {
		// KeepAlive を受信できていれば接続は正常
		s.status.SetConnected(true, nil)
	})
	client.OnRevoke(func(message twitch.RevokeMessage) {
		logger.Warn("EventSub subscription revoked",
			zap.String("type", string(message.Payload.Subscription.Type)),
			zap.String("status", message.Payload.Subscription.Status))
	})
}

// subscribeAll は失敗したイベントがあっても残りの購読を続ける
func (s *Service) subscribeAll(ctx context.Context, sessionID string) int {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		logger.Error("Failed to get token for EventSub subscriptions", zap.Error(err))
		return 0
	}

	ok := 0
	for _, event := range events {
		logger.Info("Subscribing to EventSub event", zap.String("event", string(event)))
		err := subscribeEvent(twitch.SubscribeRequest{
			SessionID:   sessionID,
			ClientID:    s.cfg.ClientID,
			AccessToken: token,
			Event:       event,
			Condition: map[string]string{
				"broadcaster_user_id": s.cfg.BroadcasterID,
				"user_id":             s.cfg.BroadcasterID,
			},
		})
		if err != nil {
			logger.Error("Failed to subscribe to event",
				zap.String("event", string(event)),
				zap.Error(err))
			continue
		}
		ok++
		logger.Info("Successfully subscribed to event", zap.String("event", string(event)))
	}
	return ok
}

func (s *Service) handleNotification(subType twitch.EventSubscription, raw json.RawMessage) {
	logger.Debug("Received EventSub notification",
		zap.String("type", string(subType)),
		zap.String("data", string(raw)))

	switch subType {
	case twitch.SubChannelCheer:
		var evt twitch.EventChannelCheer
		if err := json.Unmarshal(raw, &evt); err != nil {
			logger.Error("Failed to parse cheer event", zap.Error(err))
			return
		}
		HandleChannelCheer(s.sink, evt)

	case twitch.SubChannelChatMessage:
		var evt chatMessageEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			logger.Error("Failed to parse channel chat message event", zap.Error(err))
			return
		}
		HandleChannelChatMessage(s.sink, evt)

	default:
		logger.Debug("Unhandled EventSub notification", zap.String("type", string(subType)))
	}
}
