package localdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// ErrTokenNotFound is returned when no OAuth token has been stored yet.
var ErrTokenNotFound = errors.New("token not found")

type Token struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    int64
}

// SaveToken は最新トークンとして1行だけ保持する
func SaveToken(db *sql.DB, token Token) error {
	_, err := db.Exec(`INSERT INTO tokens (id, access_token, refresh_token, scope, expires_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			scope = excluded.scope,
			expires_at = excluded.expires_at`,
		token.AccessToken, token.RefreshToken, token.Scope, token.ExpiresAt)
	if err != nil {
		logger.Error("Failed to save token", zap.Error(err))
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// GetToken returns the stored token or ErrTokenNotFound.
func GetToken(db *sql.DB) (Token, error) {
	var token Token
	err := db.QueryRow(`SELECT COALESCE(access_token, ''), COALESCE(refresh_token, ''), COALESCE(scope, ''), COALESCE(expires_at, 0)
		FROM tokens ORDER BY id DESC LIMIT 1`).
		Scan(&token.AccessToken, &token.RefreshToken, &token.Scope, &token.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		logger.Error("Failed to load token", zap.Error(err))
		return Token{}, fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// DeleteAllTokens deletes all tokens from the database
// This is used when OAuth scopes are updated and re-authentication is required
func DeleteAllTokens(db *sql.DB) error {
	if _, err := db.Exec("DELETE FROM tokens"); err != nil {
		logger.Error("Failed to delete tokens", zap.Error(err))
		return fmt.Errorf("failed to delete tokens: %w", err)
	}

	logger.Info("All tokens have been deleted (scope update requires re-authentication)")
	return nil
}
