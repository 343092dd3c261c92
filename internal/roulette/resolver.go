package roulette

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/kvstore"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// FailureKind identifies why a spin request was refused.
type FailureKind string

const (
	FailureInsufficientTip FailureKind = "insufficient_tip"
	FailureCooldown        FailureKind = "cooldown"
	FailureInvalidConfig   FailureKind = "invalid_config"
	FailureStorage         FailureKind = "storage_failure"
)

type SpinResult struct {
	SegmentID string `json:"segmentId"`
	Label     string `json:"label"`
	Prize     string `json:"prize,omitempty"`
	Tokens    int    `json:"tokens"`
	Color     string `json:"color,omitempty"`
}

// IsWin reports whether the result pays out tokens or names a prize.
func (r SpinResult) IsWin() bool {
	return r.Tokens > 0 || r.Prize != ""
}

// PrizeText is the prize description, falling back to the label.
func (r SpinResult) PrizeText() string {
	if r.Prize != "" {
		return r.Prize
	}
	return r.Label
}

// Animation describes where the overlay wheel should stop.
type Animation struct {
	SegmentIndex int     `json:"segmentIndex"`
	Angle        float64 `json:"angle"`
	Rotations    int     `json:"rotations"`
	Duration     int     `json:"duration"`
}

// Outcome is the result of one tip. Success=false carries Error and the fields for that kind.
type Outcome struct {
	Success          bool         `json:"success"`
	Error            FailureKind  `json:"error,omitempty"`
	RequiredAmount   int          `json:"requiredAmount,omitempty"`
	TippedAmount     int          `json:"tippedAmount,omitempty"`
	RemainingSeconds int          `json:"remainingSeconds,omitempty"`
	Username         string       `json:"username"`
	TipAmount        int          `json:"tipAmount"`
	SpinsEarned      int          `json:"spinsEarned,omitempty"`
	Results          []SpinResult `json:"results,omitempty"`
	Animations       []Animation  `json:"animations,omitempty"`
	Timestamp        int64        `json:"timestamp"`
	TrackingDegraded bool         `json:"trackingDegraded,omitempty"`
	CooldownDegraded bool         `json:"cooldownDegraded,omitempty"`

	// Cause keeps the underlying error for logs. It is never shown to viewers.
	Cause error `json:"-"`
}

type ResolverOption func(*Resolver)

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithJitterSource overrides the randomness used for animation jitter.
func WithJitterSource(src RandomSource) ResolverOption {
	return func(r *Resolver) { r.jitter = src }
}

// Resolver turns a tip into spins.
type Resolver struct {
	store    kvstore.Store
	configs  *ConfigStore
	selector *Selector
	ledger   *Ledger
	jitter   RandomSource
	now      func() time.Time
}

func NewResolver(store kvstore.Store, selector *Selector, ledger *Ledger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		configs:  NewConfigStore(store),
		selector: selector,
		ledger:   ledger,
		jitter:   selector.src,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the current configuration and resolves the tip against it.
func (r *Resolver) Resolve(ctx context.Context, username string, tipAmount int) Outcome {
	cfg, err := r.configs.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) || errors.Is(err, ErrInvalidConfig) {
			logger.Error("Roulette config is unusable, spin refused", zap.String("username", username), zap.Error(err))
			return r.failure(username, tipAmount, FailureInvalidConfig, err)
		}
		logger.Error("Failed to load roulette config", zap.String("username", username), zap.Error(err))
		return r.failure(username, tipAmount, FailureStorage, err)
	}
	return r.ResolveWithConfig(ctx, username, tipAmount, cfg)
}

// ResolveWithConfig runs the spin flow. Refusals happen before anything is written;
// once spins are drawn, persistence problems only set the *Degraded flags.
func (r *Resolver) ResolveWithConfig(ctx context.Context, username string, tipAmount int, cfg Config) Outcome {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Error("Roulette config is unusable, spin refused", zap.String("username", username), zap.Error(err))
		return r.failure(username, tipAmount, FailureInvalidConfig, err)
	}

	if tipAmount < cfg.SpinCost {
		out := r.failure(username, tipAmount, FailureInsufficientTip, nil)
		out.RequiredAmount = cfg.SpinCost
		out.TippedAmount = tipAmount
		return out
	}

	now := r.now()
	lastSpin, _, err := r.store.Get(ctx, CooldownKey(username))
	if err != nil {
		logger.Error("Failed to read cooldown", zap.String("username", username), zap.Error(err))
		return r.failure(username, tipAmount, FailureStorage, fmt.Errorf("failed to read cooldown: %w", err))
	}
	if status := CheckCooldown(lastSpin, cfg.SpinCooldown, now); !status.CanSpin {
		out := r.failure(username, tipAmount, FailureCooldown, nil)
		out.RemainingSeconds = status.RemainingSeconds
		return out
	}

	spins := 1
	if cfg.AllowMultipleSpins {
		spins = tipAmount / cfg.SpinCost
	}

	out := Outcome{
		Success:     true,
		Username:    username,
		TipAmount:   tipAmount,
		SpinsEarned: spins,
		Results:     make([]SpinResult, 0, spins),
		Animations:  make([]Animation, 0, spins),
		Timestamp:   now.UnixMilli(),
	}

	for i := 0; i < spins; i++ {
		idx, err := r.selector.Pick(cfg.Segments)
		if err != nil {
			// Validate 済みの設定では起こらない
			return r.failure(username, tipAmount, FailureInvalidConfig, err)
		}
		seg := cfg.Segments[idx]
		out.Results = append(out.Results, SpinResult{
			SegmentID: seg.ID,
			Label:     seg.Label,
			Prize:     seg.Prize,
			Tokens:    seg.Tokens,
			Color:     seg.Color,
		})
		out.Animations = append(out.Animations, r.animationFor(idx, cfg))
	}

	if cfg.TrackingEnabled {
		share, remainder := tipAmount/spins, tipAmount%spins
		for i, result := range out.Results {
			charged := share
			if i == 0 {
				charged += remainder
			}
			if _, err := r.ledger.RecordSpin(ctx, username, charged, result); err != nil {
				out.TrackingDegraded = true
				out.Cause = err
			}
		}
	}

	// ledger の後に書く: 途中で落ちても損をするのは運営側
	if err := r.store.Set(ctx, CooldownKey(username), FormatSpinTime(now)); err != nil {
		logger.Warn("Failed to commit cooldown", zap.String("username", username), zap.Error(err))
		out.CooldownDegraded = true
		if out.Cause == nil {
			out.Cause = err
		}
	}

	logger.Info("Roulette spin resolved",
		zap.String("username", username),
		zap.Int("tip", tipAmount),
		zap.Int("spins", spins),
		zap.Bool("tracking_degraded", out.TrackingDegraded),
		zap.Bool("cooldown_degraded", out.CooldownDegraded))

	return out
}

func (r *Resolver) animationFor(idx int, cfg Config) Animation {
	segAngle := 360 / float64(len(cfg.Segments))
	target := float64(idx)*segAngle + segAngle/2
	jitter := (r.jitter.Float64() - 0.5) * segAngle * 0.7
	return Animation{
		SegmentIndex: idx,
		Angle:        float64(cfg.SpinRotations)*360 + (360 - target) + jitter,
		Rotations:    cfg.SpinRotations,
		Duration:     cfg.SpinDuration,
	}
}

func (r *Resolver) failure(username string, tipAmount int, kind FailureKind, cause error) Outcome {
	return Outcome{
		Success:   false,
		Error:     kind,
		Username:  username,
		TipAmount: tipAmount,
		Timestamp: r.now().UnixMilli(),
		Cause:     cause,
	}
}
