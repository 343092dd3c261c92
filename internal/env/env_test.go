package env

import (
	"path/filepath"
	"testing"

	"github.com/ichi0g0y/tip-roulette/internal/localdb"
	"github.com/ichi0g0y/tip-roulette/internal/settings"
)

func TestLoad(t *testing.T) {
	db, err := localdb.SetupDB(filepath.Join(t.TempDir(), "env.db"))
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	defer db.Close()

	sm := settings.NewSettingsManager(db)
	v, err := Load(sm)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if v.TwitchConfigured() || v.ClientID != nil {
		t.Fatalf("empty secrets should be nil: %+v", v)
	}
	if v.ServerPort != 8080 || v.KVBackend != "sqlite" || v.TipQueueSize != 1000 || !v.ChatNoticesEnabled {
		t.Fatalf("unexpected defaults: %+v", v)
	}

	for key, value := range map[string]string{
		"CLIENT_ID":            "cid",
		"CLIENT_SECRET":        "secret",
		"TWITCH_USER_ID":       "123",
		"ROULETTE_ADMIN_USERS": " alice, ,Bob ",
		"ROULETTE_WINS_LIMIT":  "10",
		"CHAT_NOTICES_ENABLED": "false",
	} {
		if err := sm.SetSetting(key, value); err != nil {
			t.Fatalf("SetSetting(%s) failed: %v", key, err)
		}
	}

	if err := LoadEnv(sm); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if !Value.TwitchConfigured() || Str(Value.ClientID) != "cid" {
		t.Fatalf("twitch settings not loaded: %+v", Value)
	}
	if len(Value.AdminUsers) != 2 || Value.AdminUsers[0] != "alice" || Value.AdminUsers[1] != "Bob" {
		t.Fatalf("admin users mismatch: %#v", Value.AdminUsers)
	}
	if Value.WinsLimit != 10 || Value.ChatNoticesEnabled {
		t.Fatalf("roulette settings not loaded: %+v", Value)
	}
}
