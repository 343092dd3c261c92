package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNotAuthorized  = errors.New("not authorized")
)

const (
	defaultListLimit = 5
	maxListLimit     = 10
)

type handlerFunc func(ctx context.Context, args []string, user ChatUser) (string, error)

type route struct {
	handler   handlerFunc
	adminOnly bool
}

// Dispatcher answers roulette chat commands.
type Dispatcher struct {
	configs *roulette.ConfigStore
	ledger  *roulette.Ledger
	admins  map[string]struct{}
	routes  map[string]route
}

// NewDispatcher builds a dispatcher. admins lists extra logins allowed to run admin commands
// besides the broadcaster and moderators.
func NewDispatcher(configs *roulette.ConfigStore, ledger *roulette.Ledger, admins []string) *Dispatcher {
	d := &Dispatcher{
		configs: configs,
		ledger:  ledger,
		admins:  make(map[string]struct{}, len(admins)),
	}
	for _, a := range admins {
		if a = roulette.NormalizeUsername(a); a != "" {
			d.admins[a] = struct{}{}
		}
	}

	d.routes = map[string]route{
		"wheel":       {handler: d.handleWheel},
		"roulette":    {handler: d.handleWheel},
		"prizes":      {handler: d.handlePrizes},
		"stats":       {handler: d.handleStats},
		"mystats":     {handler: d.handleMyStats},
		"leaderboard": {handler: d.handleLeaderboard},
		"winners":     {handler: d.handleWinners},
		"recent":      {handler: d.handleRecent},
		"resetstats":  {handler: d.handleResetStats, adminOnly: true},
		"setcost":     {handler: d.handleSetCost, adminOnly: true},
		"setcooldown": {handler: d.handleSetCooldown, adminOnly: true},
		"multispin":   {handler: d.handleMultiSpin, adminOnly: true},
		"tracking":    {handler: d.handleTracking, adminOnly: true},
	}
	return d
}

// IsAdmin reports whether user may run admin commands.
func (d *Dispatcher) IsAdmin(user ChatUser) bool {
	if user.IsBroadcaster || user.IsModerator {
		return true
	}
	_, ok := d.admins[roulette.NormalizeUsername(user.Login)]
	return ok
}

// Handle runs cmd and returns the chat reply. The reply may be non-empty even when err is set.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command, user ChatUser) (string, error) {
	r, ok := d.routes[cmd.Name]
	if !ok {
		return "", ErrUnknownCommand
	}
	if r.adminOnly && !d.IsAdmin(user) {
		logger.Info("Admin command refused", zap.String("command", cmd.Name), zap.String("user", user.Login))
		return fmt.Sprintf("@%s, only moderators can use !%s.", user.Name(), cmd.Name), ErrNotAuthorized
	}

	reply, err := r.handler(ctx, cmd.Args, user)
	if err != nil {
		logger.Error("Chat command failed", zap.String("command", cmd.Name), zap.String("user", user.Login), zap.Error(err))
	}
	return reply, err
}

const unavailableReply = "The prize wheel is unavailable right now."

func (d *Dispatcher) handleWheel(ctx context.Context, _ []string, _ ChatUser) (string, error) {
	cfg, err := d.configs.Load(ctx)
	if err != nil {
		return unavailableReply, err
	}

	multi := "off"
	if cfg.AllowMultipleSpins {
		multi = "on"
	}
	cooldown := "no cooldown"
	if cfg.SpinCooldown > 0 {
		cooldown = fmt.Sprintf("%ds cooldown", cfg.SpinCooldown)
	}
	return fmt.Sprintf("Prize wheel: %d bits per spin, %s, multiple spins per tip %s. Type !prizes to see what you can win.",
		cfg.SpinCost, cooldown, multi), nil
}

func (d *Dispatcher) handlePrizes(ctx context.Context, _ []string, _ ChatUser) (string, error) {
	cfg, err := d.configs.Load(ctx)
	if err != nil {
		return unavailableReply, err
	}

	total := 0.0
	for _, s := range cfg.Segments {
		total += s.Weight
	}
	parts := make([]string, 0, len(cfg.Segments))
	for _, s := range cfg.Segments {
		name := s.Label
		if s.Prize != "" {
			name = fmt.Sprintf("%s - %s", s.Label, s.Prize)
		}
		parts = append(parts, fmt.Sprintf("%s (%.1f%%)", name, s.Weight/total*100))
	}
	return "Prizes: " + strings.Join(parts, ", "), nil
}

func (d *Dispatcher) handleStats(ctx context.Context, _ []string, _ ChatUser) (string, error) {
	s, err := d.ledger.GetStatsSummary(ctx)
	if err != nil {
		return unavailableReply, err
	}
	if s.TotalSpins == 0 {
		return "No spins yet this session.", nil
	}
	return fmt.Sprintf("Roulette stats: %d spins by %d players, %d tipped, %d awarded, session running %d min.",
		s.TotalSpins, s.UniquePlayers, s.TotalTokensSpent, s.TotalTokensAwarded, s.SessionDurationMinutes), nil
}

func (d *Dispatcher) handleMyStats(ctx context.Context, args []string, user ChatUser) (string, error) {
	target := user.Login
	display := user.Name()
	if len(args) > 0 {
		target = strings.TrimPrefix(args[0], "@")
		display = target
	}

	stat, found, err := d.ledger.GetUserStats(ctx, target)
	if err != nil {
		return unavailableReply, err
	}
	if !found {
		return fmt.Sprintf("@%s hasn't spun the wheel yet.", display), nil
	}

	reply := fmt.Sprintf("@%s: %d spins, %d tipped, %d won.", display, stat.TotalSpins, stat.TotalTipped, stat.TotalWon)
	if n := len(stat.Wins); n > 0 {
		reply += fmt.Sprintf(" Last win: %s.", stat.Wins[n-1].Prize)
	}
	return reply, nil
}

func (d *Dispatcher) handleLeaderboard(ctx context.Context, args []string, _ ChatUser) (string, error) {
	board, err := d.ledger.GetLeaderboard(ctx, parseLimit(args))
	if err != nil {
		return unavailableReply, err
	}
	if len(board) == 0 {
		return "No spins yet this session.", nil
	}
	parts := make([]string, 0, len(board))
	for i, p := range board {
		parts = append(parts, fmt.Sprintf("%d. %s (%d)", i+1, p.Username, p.TotalTipped))
	}
	return "Top tippers: " + strings.Join(parts, " "), nil
}

func (d *Dispatcher) handleWinners(ctx context.Context, args []string, _ ChatUser) (string, error) {
	winners, err := d.ledger.GetBiggestWinners(ctx, parseLimit(args))
	if err != nil {
		return unavailableReply, err
	}
	if len(winners) == 0 {
		return "Nobody has won anything yet.", nil
	}
	parts := make([]string, 0, len(winners))
	for i, p := range winners {
		parts = append(parts, fmt.Sprintf("%d. %s (%d)", i+1, p.Username, p.TotalWon))
	}
	return "Biggest winners: " + strings.Join(parts, " "), nil
}

func (d *Dispatcher) handleRecent(ctx context.Context, args []string, _ ChatUser) (string, error) {
	spins, err := d.ledger.GetRecentSpins(ctx, parseLimit(args))
	if err != nil {
		return unavailableReply, err
	}
	if len(spins) == 0 {
		return "No spins yet this session.", nil
	}
	parts := make([]string, 0, len(spins))
	for _, s := range spins {
		parts = append(parts, fmt.Sprintf("%s -> %s (%d)", s.Username, s.Result, s.Tokens))
	}
	return "Recent spins: " + strings.Join(parts, ", "), nil
}

func (d *Dispatcher) handleResetStats(ctx context.Context, _ []string, user ChatUser) (string, error) {
	if _, err := d.ledger.ResetTrackingData(ctx); err != nil {
		return "Could not reset the roulette stats.", err
	}
	logger.Info("Roulette stats reset from chat", zap.String("user", user.Login))
	return "Roulette stats have been reset. A new session has started.", nil
}

func (d *Dispatcher) handleSetCost(ctx context.Context, args []string, _ ChatUser) (string, error) {
	n, ok := parseInt(args)
	if !ok || n <= 0 {
		return "Usage: !setcost <bits> (must be greater than 0)", nil
	}
	if _, err := d.configs.Modify(ctx, func(c *roulette.Config) error {
		c.SpinCost = n
		return nil
	}); err != nil {
		return "Could not update the spin cost.", err
	}
	return fmt.Sprintf("Spin cost is now %d bits.", n), nil
}

func (d *Dispatcher) handleSetCooldown(ctx context.Context, args []string, _ ChatUser) (string, error) {
	n, ok := parseInt(args)
	if !ok || n < 0 {
		return "Usage: !setcooldown <seconds> (0 disables the cooldown)", nil
	}
	if _, err := d.configs.Modify(ctx, func(c *roulette.Config) error {
		c.SpinCooldown = n
		return nil
	}); err != nil {
		return "Could not update the cooldown.", err
	}
	if n == 0 {
		return "Spin cooldown disabled.", nil
	}
	return fmt.Sprintf("Spin cooldown is now %d seconds.", n), nil
}

func (d *Dispatcher) handleMultiSpin(ctx context.Context, args []string, _ ChatUser) (string, error) {
	on, ok := parseSwitch(args)
	if !ok {
		return "Usage: !multispin on|off", nil
	}
	if _, err := d.configs.Modify(ctx, func(c *roulette.Config) error {
		c.AllowMultipleSpins = on
		return nil
	}); err != nil {
		return "Could not update multiple spins.", err
	}
	if on {
		return "Multiple spins per tip enabled.", nil
	}
	return "Multiple spins per tip disabled.", nil
}

func (d *Dispatcher) handleTracking(ctx context.Context, args []string, _ ChatUser) (string, error) {
	on, ok := parseSwitch(args)
	if !ok {
		return "Usage: !tracking on|off", nil
	}
	if _, err := d.configs.Modify(ctx, func(c *roulette.Config) error {
		c.TrackingEnabled = on
		return nil
	}); err != nil {
		return "Could not update tracking.", err
	}
	if on {
		return "Spin tracking enabled.", nil
	}
	return "Spin tracking disabled.", nil
}

func parseLimit(args []string) int {
	n, ok := parseInt(args)
	if !ok || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func parseInt(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseSwitch(args []string) (bool, bool) {
	if len(args) == 0 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "enable", "1":
		return true, true
	case "off", "false", "disable", "0":
		return false, true
	}
	return false, false
}
