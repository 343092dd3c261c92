package env

import (
	"strconv"
	"strings"

	"github.com/ichi0g0y/tip-roulette/internal/settings"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// ValueType holds the runtime configuration read from the settings table.
// Secrets are pointers so an unset value stays distinguishable from "".
type ValueType struct {
	ClientID     *string
	ClientSecret *string
	TwitchUserID *string

	ServerPort  int
	DebugOutput bool
	DryRunMode  bool

	KVBackend     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ChatNoticesEnabled bool
	AdminUsers         []string
	WinsLimit          int
	TipQueueSize       int
}

var Value ValueType

// LoadEnv reads every setting from the manager into Value.
func LoadEnv(sm *settings.SettingsManager) error {
	v, err := Load(sm)
	if err != nil {
		return err
	}
	Value = v
	return nil
}

// Load reads the settings without touching the package-level Value.
func Load(sm *settings.SettingsManager) (ValueType, error) {
	all, err := sm.GetAllSettings()
	if err != nil {
		logger.Error("Failed to load settings", zap.Error(err))
		return ValueType{}, err
	}
	get := func(key string) string {
		return strings.TrimSpace(all[key].Value)
	}

	v := ValueType{
		ClientID:           optional(get("CLIENT_ID")),
		ClientSecret:       optional(get("CLIENT_SECRET")),
		TwitchUserID:       optional(get("TWITCH_USER_ID")),
		ServerPort:         atoi(get("SERVER_PORT"), 8080),
		DebugOutput:        get("DEBUG_OUTPUT") == "true",
		DryRunMode:         get("DRY_RUN_MODE") == "true",
		KVBackend:          get("KV_BACKEND"),
		RedisAddr:          get("REDIS_ADDR"),
		RedisPassword:      get("REDIS_PASSWORD"),
		RedisDB:            atoi(get("REDIS_DB"), 0),
		ChatNoticesEnabled: get("CHAT_NOTICES_ENABLED") != "false",
		AdminUsers:         splitList(get("ROULETTE_ADMIN_USERS")),
		WinsLimit:          atoi(get("ROULETTE_WINS_LIMIT"), 0),
		TipQueueSize:       atoi(get("TIP_QUEUE_SIZE"), 1000),
	}
	if v.KVBackend == "" {
		v.KVBackend = "sqlite"
	}
	return v, nil
}

// TwitchConfigured reports whether EventSub and chat can be used.
func (v ValueType) TwitchConfigured() bool {
	return v.ClientID != nil && v.ClientSecret != nil && v.TwitchUserID != nil
}

// Str dereferences an optional value.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
