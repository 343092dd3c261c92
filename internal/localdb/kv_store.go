package localdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// KVEntry は kv_store テーブルの1行。Version は楽観ロック用。
type KVEntry struct {
	Key     string
	Value   string
	Version int64
}

// SetupKVTable creates the kv_store table.
func SetupKVTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create kv_store table", zap.Error(err))
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return nil
}

// GetKVEntry returns the entry for key. found=false when the key is absent.
func GetKVEntry(db *sql.DB, key string) (KVEntry, bool, error) {
	entry := KVEntry{Key: key}
	err := db.QueryRow(`SELECT value, version FROM kv_store WHERE key = ?`, key).Scan(&entry.Value, &entry.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return KVEntry{Key: key}, false, nil
	}
	if err != nil {
		logger.Error("Failed to get kv entry", zap.String("key", key), zap.Error(err))
		return KVEntry{}, false, fmt.Errorf("failed to get kv entry: %w", err)
	}
	return entry, true, nil
}

// PutKVEntry writes value unconditionally and bumps the version.
func PutKVEntry(db *sql.DB, key, value string) error {
	_, err := db.Exec(`INSERT INTO kv_store (key, value, version, updated_at) VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv_store.version + 1,
			updated_at = CURRENT_TIMESTAMP`, key, value)
	if err != nil {
		logger.Error("Failed to put kv entry", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to put kv entry: %w", err)
	}
	return nil
}

// CompareAndSwapKVEntry は version が一致する場合のみ書き込む。
// version=0 は「キーが存在しないこと」を期待する。
func CompareAndSwapKVEntry(db *sql.DB, key, value string, version int64) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if version == 0 {
		res, err = db.Exec(`INSERT OR IGNORE INTO kv_store (key, value, version, updated_at) VALUES (?, ?, 1, CURRENT_TIMESTAMP)`, key, value)
	} else {
		res, err = db.Exec(`UPDATE kv_store SET value = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE key = ? AND version = ?`, value, key, version)
	}
	if err != nil {
		logger.Error("Failed to swap kv entry", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to swap kv entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}
