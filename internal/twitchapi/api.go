package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.twitch.tv"

// Twitch のチャットメッセージ上限 (文字数)
const maxChatMessageLength = 500

var ErrMessageDropped = errors.New("chat message was dropped by twitch")

// TokenSource hands out a current user access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client is a minimal Helix client acting as the broadcaster.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	clientID      string
	broadcasterID string
	senderID      string
	tokens        TokenSource
}

type Options struct {
	ClientID      string
	BroadcasterID string
	// SenderID defaults to BroadcasterID.
	SenderID string
	BaseURL  string
}

func NewClient(tokens TokenSource, opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	sender := opts.SenderID
	if sender == "" {
		sender = opts.BroadcasterID
	}
	return &Client{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		baseURL:       base,
		clientID:      opts.ClientID,
		broadcasterID: opts.BroadcasterID,
		senderID:      sender,
		tokens:        tokens,
	}
}

type sendChatRequest struct {
	BroadcasterID string `json:"broadcaster_id"`
	SenderID      string `json:"sender_id"`
	Message       string `json:"message"`
}

type sendChatResponse struct {
	Data []struct {
		MessageID  string `json:"message_id"`
		IsSent     bool   `json:"is_sent"`
		DropReason *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"drop_reason"`
	} `json:"data"`
}

// truncateMessage cuts s to at most limit characters without splitting a rune.
func truncateMessage(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// SendChatMessage posts message to the broadcaster's chat.
func (c *Client) SendChatMessage(ctx context.Context, message string) error {
	message = truncateMessage(message, maxChatMessageLength)

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	body, err := json.Marshal(sendChatRequest{
		BroadcasterID: c.broadcasterID,
		SenderID:      c.senderID,
		Message:       message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/helix/chat/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.Error("Twitch API returned error for chat message",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(bodyBytes)))
		return fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var result sendChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Data) > 0 && !result.Data[0].IsSent {
		reason := ""
		if dr := result.Data[0].DropReason; dr != nil {
			reason = dr.Code + ": " + dr.Message
		}
		logger.Warn("Chat message dropped", zap.String("reason", reason))
		return fmt.Errorf("%w: %s", ErrMessageDropped, reason)
	}
	return nil
}

// ChatNotifier sends roulette notices to Twitch chat.
type ChatNotifier struct {
	Client *Client
	// DryRun logs notices instead of posting them.
	DryRun bool
}

func (n ChatNotifier) SendNotice(ctx context.Context, text string) error {
	if n.DryRun {
		logger.Info("[dry-run] chat notice", zap.String("text", text))
		return nil
	}
	return n.Client.SendChatMessage(ctx, text)
}
