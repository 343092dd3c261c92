package twitchtoken

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/localdb"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	DefaultTokenURL     = "https://id.twitch.tv/oauth2/token"
	DefaultAuthorizeURL = "https://id.twitch.tv/oauth2/authorize"

	// 期限まで30分を切ったら先にリフレッシュする
	RefreshMargin = 30 * time.Minute
)

var scopes = []string{
	"bits:read",
	"user:read:chat",
	"user:write:chat",
	"moderator:read:chatters",
}

var (
	ErrNoToken         = errors.New("no twitch token stored")
	ErrNoRefreshToken  = errors.New("no refresh token available")
	ErrMissingClientID = errors.New("twitch client id is not configured")
)

type Token = localdb.Token

// Manager stores the broadcaster's OAuth token and keeps it fresh.
type Manager struct {
	db           *sql.DB
	clientID     string
	clientSecret string
	redirectURL  string

	httpClient   *http.Client
	tokenURL     string
	authorizeURL string
	now          func() time.Time

	// リフレッシュの多重実行を防ぐ
	mu           sync.Mutex
	onAuthorized func(Token)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewManager(db *sql.DB, cfg Config) *Manager {
	return &Manager{
		db:           db,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		tokenURL:     DefaultTokenURL,
		authorizeURL: DefaultAuthorizeURL,
		now:          time.Now,
	}
}

// ClientID returns the app's client id for Helix and EventSub calls.
func (m *Manager) ClientID() string {
	return m.clientID
}

// GetLatestToken returns the stored token and whether it is still valid.
func (m *Manager) GetLatestToken() (Token, bool, error) {
	token, err := localdb.GetToken(m.db)
	if err != nil {
		if errors.Is(err, localdb.ErrTokenNotFound) {
			return Token{}, false, ErrNoToken
		}
		return Token{}, false, err
	}
	return token, token.AccessToken != "" && token.ExpiresAt > m.now().Unix(), nil
}

func (m *Manager) SaveToken(token Token) error {
	return localdb.SaveToken(m.db, token)
}

// GetOrRefreshToken returns a valid token, refreshing it when it has expired.
// valid=false with a nil error means the user has to authorize again.
func (m *Manager) GetOrRefreshToken(ctx context.Context) (Token, bool, error) {
	token, valid, err := m.GetLatestToken()
	if err != nil {
		return Token{}, false, err
	}
	if valid {
		return token, true, nil
	}
	if token.RefreshToken == "" {
		return token, false, nil
	}

	refreshed, err := m.RefreshTwitchToken(ctx)
	if err != nil {
		return token, false, err
	}
	return refreshed, true, nil
}

// AccessToken returns a usable access token, refreshing when it expires within RefreshMargin.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	token, valid, err := m.GetLatestToken()
	if err != nil {
		return "", err
	}
	if valid && time.Unix(token.ExpiresAt, 0).Sub(m.now()) > RefreshMargin {
		return token.AccessToken, nil
	}

	refreshed, err := m.RefreshTwitchToken(ctx)
	if err != nil {
		if valid {
			// まだ期限内なので古いトークンで続行
			logger.Warn("Failed to refresh token proactively", zap.Error(err))
			return token.AccessToken, nil
		}
		return "", err
	}
	return refreshed.AccessToken, nil
}

// RefreshTwitchToken exchanges the stored refresh token for a new token and saves it.
func (m *Manager) RefreshTwitchToken(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := localdb.GetToken(m.db)
	if err != nil {
		if errors.Is(err, localdb.ErrTokenNotFound) {
			return Token{}, ErrNoToken
		}
		return Token{}, err
	}
	if current.RefreshToken == "" {
		return Token{}, ErrNoRefreshToken
	}

	result, err := m.postToken(ctx, url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {current.RefreshToken},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		logger.Error("Failed to refresh twitch token", zap.Error(err))
		return Token{}, fmt.Errorf("failed to refresh token: %w", err)
	}

	token := result.toToken(m.now())
	if token.RefreshToken == "" {
		token.RefreshToken = current.RefreshToken
	}
	if err := m.SaveToken(token); err != nil {
		return Token{}, err
	}

	logger.Info("Twitch token refreshed", zap.Time("expires_at", time.Unix(token.ExpiresAt, 0)))
	return token, nil
}

// ExchangeCode trades an OAuth authorization code for a token and saves it.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (Token, error) {
	if m.clientID == "" {
		return Token{}, ErrMissingClientID
	}

	result, err := m.postToken(ctx, url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {m.redirectURL},
	})
	if err != nil {
		logger.Error("Failed to exchange authorization code", zap.Error(err))
		return Token{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	token := result.toToken(m.now())
	if err := m.SaveToken(token); err != nil {
		return Token{}, err
	}
	logger.Info("Twitch authorization completed", zap.String("scope", token.Scope))
	return token, nil
}

// AuthURL is where the broadcaster is sent to grant the bot access.
func (m *Manager) AuthURL() string {
	return fmt.Sprintf(
		"%s?response_type=code&client_id=%s&redirect_uri=%s&scope=%s",
		m.authorizeURL,
		url.QueryEscape(m.clientID),
		url.QueryEscape(m.redirectURL),
		url.QueryEscape(strings.Join(scopes, " ")),
	)
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	Scope        []string `json:"scope"`

	Error            string `json:"error"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
}

func (r tokenResponse) toToken(now time.Time) Token {
	return Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Scope:        strings.Join(r.Scope, " "),
		ExpiresAt:    now.Unix() + r.ExpiresIn,
	}
}

func (m *Manager) postToken(ctx context.Context, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return tokenResponse{}, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if resp.StatusCode != http.StatusOK || result.Error != "" {
		desc := result.ErrorDescription
		if desc == "" {
			desc = result.Message
		}
		return tokenResponse{}, fmt.Errorf("twitch token endpoint returned %d: %s %s", resp.StatusCode, result.Error, desc)
	}
	if result.AccessToken == "" {
		return tokenResponse{}, errors.New("access_token not found in response")
	}
	if result.ExpiresIn <= 0 {
		return tokenResponse{}, errors.New("expires_in not found in response")
	}
	return result, nil
}
