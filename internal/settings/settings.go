package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

type SettingType string

const (
	SettingTypeNormal SettingType = "normal"
	SettingTypeSecret SettingType = "secret"
)

type Setting struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Type        SettingType `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	UpdatedAt   time.Time   `json:"updated_at"`
	HasValue    bool        `json:"has_value"` // シークレット値が設定されているかどうか
}

type SettingsManager struct {
	db *sql.DB
}

func NewSettingsManager(db *sql.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

// 設定の定義
var DefaultSettings = map[string]Setting{
	// Twitch設定（機密情報）
	"CLIENT_ID": {
		Key: "CLIENT_ID", Value: "", Type: SettingTypeSecret, Required: true,
		Description: "Twitch API Client ID",
	},
	"CLIENT_SECRET": {
		Key: "CLIENT_SECRET", Value: "", Type: SettingTypeSecret, Required: true,
		Description: "Twitch API Client Secret",
	},
	"TWITCH_USER_ID": {
		Key: "TWITCH_USER_ID", Value: "", Type: SettingTypeSecret, Required: true,
		Description: "Broadcaster user ID whose cheers spin the wheel",
	},

	// サーバー設定
	"SERVER_PORT": {
		Key: "SERVER_PORT", Value: "8080", Type: SettingTypeNormal, Required: false,
		Description: "Web server port for the OBS overlay and API",
	},
	"DEBUG_OUTPUT": {
		Key: "DEBUG_OUTPUT", Value: "false", Type: SettingTypeNormal, Required: false,
		Description: "Enable debug output",
	},

	// ストレージ設定
	"KV_BACKEND": {
		Key: "KV_BACKEND", Value: "sqlite", Type: SettingTypeNormal, Required: false,
		Description: "Key-value backend for roulette state (sqlite, redis or memory)",
	},
	"REDIS_ADDR": {
		Key: "REDIS_ADDR", Value: "localhost:6379", Type: SettingTypeNormal, Required: false,
		Description: "Redis address used when KV_BACKEND is redis",
	},
	"REDIS_PASSWORD": {
		Key: "REDIS_PASSWORD", Value: "", Type: SettingTypeSecret, Required: false,
		Description: "Redis password",
	},
	"REDIS_DB": {
		Key: "REDIS_DB", Value: "0", Type: SettingTypeNormal, Required: false,
		Description: "Redis database number",
	},

	// ルーレット動作設定
	"CHAT_NOTICES_ENABLED": {
		Key: "CHAT_NOTICES_ENABLED", Value: "true", Type: SettingTypeNormal, Required: false,
		Description: "Post spin results and command replies to Twitch chat",
	},
	"DRY_RUN_MODE": {
		Key: "DRY_RUN_MODE", Value: "false", Type: SettingTypeNormal, Required: false,
		Description: "Log chat notices instead of posting them",
	},
	"ROULETTE_ADMIN_USERS": {
		Key: "ROULETTE_ADMIN_USERS", Value: "", Type: SettingTypeNormal, Required: false,
		Description: "Comma separated logins allowed to run admin commands besides moderators",
	},
	"ROULETTE_WINS_LIMIT": {
		Key: "ROULETTE_WINS_LIMIT", Value: "0", Type: SettingTypeNormal, Required: false,
		Description: "Wins kept per user in the stats ledger (0 keeps all)",
	},
	"TIP_QUEUE_SIZE": {
		Key: "TIP_QUEUE_SIZE", Value: "1000", Type: SettingTypeNormal, Required: false,
		Description: "Pending tips and commands buffered before new ones are dropped",
	},
}

// 機能の有効性チェック
type FeatureStatus struct {
	TwitchConfigured bool     `json:"twitch_configured"`
	MissingSettings  []string `json:"missing_settings"`
	Warnings         []string `json:"warnings"`
	ServiceMode      bool     `json:"service_mode"` // systemdサービスとして実行されているか
}

func (sm *SettingsManager) CheckFeatureStatus() (*FeatureStatus, error) {
	status := &FeatureStatus{
		MissingSettings: []string{},
		Warnings:        []string{},
		ServiceMode:     os.Getenv("RUNNING_AS_SERVICE") == "true",
	}

	twitchComplete := true
	for _, key := range []string{"CLIENT_ID", "CLIENT_SECRET", "TWITCH_USER_ID"} {
		if val, err := sm.GetSetting(key); err != nil || val == "" {
			status.MissingSettings = append(status.MissingSettings, key)
			twitchComplete = false
		}
	}
	status.TwitchConfigured = twitchComplete

	if dryRun, _ := sm.GetSetting("DRY_RUN_MODE"); dryRun == "true" {
		status.Warnings = append(status.Warnings, "DRY_RUN_MODE is enabled - chat notices are only logged")
	}
	if backend, _ := sm.GetSetting("KV_BACKEND"); backend == "memory" {
		status.Warnings = append(status.Warnings, "KV_BACKEND is memory - roulette stats are lost on restart")
	}

	return status, nil
}

// CRUD操作
func (sm *SettingsManager) GetSetting(key string) (string, error) {
	var value string
	err := sm.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		// デフォルト値を返す
		if defaultSetting, exists := DefaultSettings[key]; exists {
			return defaultSetting.Value, nil
		}
		return "", fmt.Errorf("setting not found: %s", key)
	}
	return value, err
}

func (sm *SettingsManager) SetSetting(key, value string) error {
	defaultSetting, exists := DefaultSettings[key]
	if !exists {
		return fmt.Errorf("unknown setting key: %s", key)
	}
	if err := ValidateSetting(key, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	_, err := sm.db.Exec(`
		INSERT INTO settings (key, value, setting_type, is_required, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value,
		string(defaultSetting.Type),
		defaultSetting.Required,
		defaultSetting.Description,
	)
	if err != nil {
		logger.Error("Failed to save setting", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

func (sm *SettingsManager) GetAllSettings() (map[string]Setting, error) {
	rows, err := sm.db.Query(`
		SELECT key, value, setting_type, is_required, description, updated_at
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]Setting)
	for rows.Next() {
		var s Setting
		var settingType string
		var description sql.NullString
		if err := rows.Scan(&s.Key, &s.Value, &settingType, &s.Required, &description, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Type = SettingType(settingType)
		s.Description = description.String
		s.HasValue = s.Value != ""
		settings[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DBにない設定はデフォルト値で補完
	for key, defaultSetting := range DefaultSettings {
		if _, exists := settings[key]; !exists {
			defaultSetting.HasValue = defaultSetting.Value != ""
			settings[key] = defaultSetting
		}
	}

	return settings, nil
}

// GetRealValue はマスクなしの値を返す（内部処理用）
func (sm *SettingsManager) GetRealValue(key string) (string, error) {
	return sm.GetSetting(key)
}

// 環境変数からの移行
func (sm *SettingsManager) MigrateFromEnv() error {
	logger.Info("Starting migration from environment variables")
	migrated := 0

	for key := range DefaultSettings {
		// 既にDB設定が存在する場合はスキップ
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		if envValue := os.Getenv(key); envValue != "" {
			if err := sm.SetSetting(key, envValue); err != nil {
				logger.Error("Failed to migrate setting", zap.String("key", key), zap.Error(err))
				return fmt.Errorf("failed to migrate %s: %w", key, err)
			}
			logger.Info("Migrated setting from environment", zap.String("key", key))
			migrated++
		}
	}

	if migrated > 0 {
		logger.Info("Migration completed", zap.Int("migrated_count", migrated))
		if hasSecretInEnv() {
			logger.Warn("SECURITY WARNING: Sensitive data found in environment variables.")
			logger.Warn("Please remove CLIENT_SECRET and other sensitive values from .env file after confirming the migration is successful.")
		}
	}

	return nil
}

func hasSecretInEnv() bool {
	for _, key := range []string{"CLIENT_SECRET", "CLIENT_ID", "TWITCH_USER_ID", "REDIS_PASSWORD"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

var redisAddrPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+:\d{1,5}$`)

// バリデーション
func ValidateSetting(key, value string) error {
	switch key {
	case "SERVER_PORT":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 65535 {
			return fmt.Errorf("must be integer between 1 and 65535")
		}
	case "KV_BACKEND":
		switch value {
		case "sqlite", "redis", "memory":
		default:
			return fmt.Errorf("must be one of sqlite, redis, memory")
		}
	case "REDIS_ADDR":
		if value != "" && !redisAddrPattern.MatchString(value) {
			return fmt.Errorf("must be host:port")
		}
	case "REDIS_DB":
		if val, err := strconv.Atoi(value); err != nil || val < 0 || val > 15 {
			return fmt.Errorf("must be integer between 0 and 15")
		}
	case "ROULETTE_WINS_LIMIT":
		if val, err := strconv.Atoi(value); err != nil || val < 0 {
			return fmt.Errorf("must be a non-negative integer")
		}
	case "TIP_QUEUE_SIZE":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 100000 {
			return fmt.Errorf("must be integer between 1 and 100000")
		}
	case "DRY_RUN_MODE", "DEBUG_OUTPUT", "CHAT_NOTICES_ENABLED":
		if value != "true" && value != "false" {
			return fmt.Errorf("must be 'true' or 'false'")
		}
	}
	return nil
}

// 初期設定のセットアップ
func (sm *SettingsManager) InitializeDefaultSettings() error {
	for key, setting := range DefaultSettings {
		// 既に設定が存在する場合はスキップ
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		if err := sm.SetSetting(key, setting.Value); err != nil {
			return fmt.Errorf("failed to initialize setting %s: %w", key, err)
		}
	}
	return nil
}
