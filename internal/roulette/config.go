package roulette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ichi0g0y/tip-roulette/internal/kvstore"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	ConfigKey         = "roulette_config"
	TrackingKey       = "roulette_tracking"
	cooldownKeyPrefix = "roulette_last_spin_"
)

var (
	ErrConfigNotFound = errors.New("roulette config not found")
	ErrInvalidConfig  = errors.New("invalid roulette config")
)

// Segment はホイールの1区画。Weight が 0 の場合は 1 として扱う。
type Segment struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Prize  string  `json:"prize,omitempty"`
	Tokens int     `json:"tokens"`
	Weight float64 `json:"weight,omitempty"`
	Color  string  `json:"color,omitempty"`
}

// Config is the active wheel configuration, stored as JSON under ConfigKey.
type Config struct {
	SpinCost           int       `json:"spinCost"`
	SpinCooldown       int       `json:"spinCooldown"`
	AllowMultipleSpins bool      `json:"allowMultipleSpins"`
	SpinRotations      int       `json:"spinRotations"`
	SpinDuration       int       `json:"spinDuration"`
	TrackingEnabled    bool      `json:"trackingEnabled"`
	Segments           []Segment `json:"segments"`
}

// DefaultConfig is seeded into an empty store on first start.
func DefaultConfig() Config {
	return Config{
		SpinCost:           50,
		SpinCooldown:       30,
		AllowMultipleSpins: false,
		SpinRotations:      5,
		SpinDuration:       5000,
		TrackingEnabled:    true,
		Segments: []Segment{
			{ID: "nothing", Label: "Nothing", Tokens: 0, Weight: 40, Color: "#6b7280"},
			{ID: "small", Label: "Small Win", Prize: "25 tokens", Tokens: 25, Weight: 25, Color: "#10b981"},
			{ID: "refund", Label: "Refund", Prize: "50 tokens", Tokens: 50, Weight: 15, Color: "#3b82f6"},
			{ID: "double", Label: "Double", Prize: "100 tokens", Tokens: 100, Weight: 10, Color: "#8b5cf6"},
			{ID: "shoutout", Label: "Shoutout", Prize: "Shoutout on stream", Tokens: 0, Weight: 8, Color: "#f59e0b"},
			{ID: "jackpot", Label: "Jackpot", Prize: "500 tokens", Tokens: 500, Weight: 2, Color: "#ef4444"},
		},
	}
}

// Normalize fills defaults that the JSON form may omit.
func (c *Config) Normalize() {
	for i := range c.Segments {
		if c.Segments[i].Weight == 0 {
			c.Segments[i].Weight = 1
		}
		if c.Segments[i].Label == "" {
			c.Segments[i].Label = c.Segments[i].ID
		}
	}
}

// Validate returns an error wrapping ErrInvalidConfig describing the first problem found.
func (c Config) Validate() error {
	if c.SpinCost <= 0 {
		return fmt.Errorf("%w: spinCost must be positive", ErrInvalidConfig)
	}
	if c.SpinCooldown < 0 {
		return fmt.Errorf("%w: spinCooldown must not be negative", ErrInvalidConfig)
	}
	if c.SpinRotations < 1 {
		return fmt.Errorf("%w: spinRotations must be at least 1", ErrInvalidConfig)
	}
	if c.SpinDuration < 0 {
		return fmt.Errorf("%w: spinDuration must not be negative", ErrInvalidConfig)
	}
	if len(c.Segments) == 0 {
		return fmt.Errorf("%w: segments must not be empty", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Segments))
	for i, seg := range c.Segments {
		if strings.TrimSpace(seg.ID) == "" {
			return fmt.Errorf("%w: segment %d has no id", ErrInvalidConfig, i)
		}
		if _, dup := seen[seg.ID]; dup {
			return fmt.Errorf("%w: duplicate segment id %q", ErrInvalidConfig, seg.ID)
		}
		seen[seg.ID] = struct{}{}
		if seg.Weight <= 0 || math.IsNaN(seg.Weight) || math.IsInf(seg.Weight, 0) {
			return fmt.Errorf("%w: segment %q weight must be a positive number", ErrInvalidConfig, seg.ID)
		}
		if seg.Tokens < 0 {
			return fmt.Errorf("%w: segment %q tokens must not be negative", ErrInvalidConfig, seg.ID)
		}
	}
	return nil
}

// SegmentIndex returns the wheel position of the segment with id, or -1.
func (c Config) SegmentIndex(id string) int {
	for i, seg := range c.Segments {
		if seg.ID == id {
			return i
		}
	}
	return -1
}

// ConfigStore reads and writes the wheel configuration. Nothing is cached between calls.
type ConfigStore struct {
	store kvstore.Store
}

func NewConfigStore(store kvstore.Store) *ConfigStore {
	return &ConfigStore{store: store}
}

// ParseConfig decodes, normalizes and validates a JSON configuration.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load returns ErrConfigNotFound, an ErrInvalidConfig wrap, or a storage error.
func (s *ConfigStore) Load(ctx context.Context) (Config, error) {
	raw, found, err := s.store.Get(ctx, ConfigKey)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load roulette config: %w", err)
	}
	if !found {
		return Config{}, ErrConfigNotFound
	}
	return ParseConfig([]byte(raw))
}

// Save validates cfg before writing it.
func (s *ConfigStore) Save(ctx context.Context, cfg Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode roulette config: %w", err)
	}
	if err := s.store.Set(ctx, ConfigKey, string(data)); err != nil {
		logger.Error("Failed to save roulette config", zap.Error(err))
		return fmt.Errorf("failed to save roulette config: %w", err)
	}
	return nil
}

// Modify applies fn to the stored configuration and saves the result atomically.
// fn may run more than once when another writer changes the config concurrently.
func (s *ConfigStore) Modify(ctx context.Context, fn func(*Config) error) (Config, error) {
	var out Config
	err := s.store.Update(ctx, ConfigKey, func(cur string, found bool) (string, error) {
		if !found {
			return "", ErrConfigNotFound
		}
		cfg, err := ParseConfig([]byte(cur))
		if err != nil {
			return "", err
		}
		if err := fn(&cfg); err != nil {
			return "", err
		}
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return "", err
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to encode roulette config: %w", err)
		}
		out = cfg
		return string(data), nil
	})
	if err != nil {
		if !errors.Is(err, ErrConfigNotFound) && !errors.Is(err, ErrInvalidConfig) {
			logger.Error("Failed to modify roulette config", zap.Error(err))
		}
		return Config{}, err
	}
	return out, nil
}

// EnsureDefault writes DefaultConfig when no configuration exists yet.
// A present but invalid configuration is left alone so the operator can fix it.
func (s *ConfigStore) EnsureDefault(ctx context.Context) (bool, error) {
	_, found, err := s.store.Get(ctx, ConfigKey)
	if err != nil {
		return false, fmt.Errorf("failed to check roulette config: %w", err)
	}
	if found {
		return false, nil
	}
	if err := s.Save(ctx, DefaultConfig()); err != nil {
		return false, err
	}
	logger.Info("Seeded default roulette config")
	return true, nil
}

// NormalizeUsername lower-cases and trims a login name for use in keys.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// CooldownKey returns the store key holding username's last spin time.
func CooldownKey(username string) string {
	return cooldownKeyPrefix + NormalizeUsername(username)
}
