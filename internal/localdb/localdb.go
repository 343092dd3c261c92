package localdb

import (
	"database/sql"
	"fmt"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SetupDB opens the sqlite database at dbPath and creates the tables the service needs.
func SetupDB(dbPath string) (*sql.DB, error) {
	// WALモードとBusy Timeoutを設定（Race Condition対策）
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		logger.Error("Failed to open database", zap.String("path", dbPath), zap.Error(err))
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tokens (
		id INTEGER PRIMARY KEY,
		access_token TEXT,
		refresh_token TEXT,
		scope TEXT,
		expires_at INTEGER
	)`)
	if err != nil {
		db.Close()
		logger.Error("Failed to create tokens table", zap.Error(err))
		return nil, fmt.Errorf("failed to create tokens table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		setting_type TEXT NOT NULL DEFAULT 'normal',
		is_required BOOLEAN NOT NULL DEFAULT false,
		description TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		logger.Error("Failed to create settings table", zap.Error(err))
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	if err := SetupKVTable(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
