package tips

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	// maxNoticeLength is the Twitch chat limit in characters.
	maxNoticeLength = 500
	// maxListedResults caps the labels listed for a multi-spin tip.
	maxListedResults = 10
)

// Notifier sends a chat notice to the channel.
type Notifier interface {
	SendNotice(ctx context.Context, text string) error
}

// LogNotifier only writes notices to the log. Used when chat notices are disabled
// or no Twitch credentials are configured.
type LogNotifier struct{}

func (LogNotifier) SendNotice(_ context.Context, text string) error {
	logger.Info("Chat notice", zap.String("text", text))
	return nil
}

// FormatNotices turns an outcome into the chat lines shown to viewers.
// Internal error details never appear in the returned text.
func FormatNotices(o roulette.Outcome) []string {
	user := o.Username
	if !o.Success {
		switch o.Error {
		case roulette.FailureInsufficientTip:
			return []string{fmt.Sprintf("@%s, a spin costs %d bits. You tipped %d, so no spin this time.",
				user, o.RequiredAmount, o.TippedAmount)}
		case roulette.FailureCooldown:
			return []string{fmt.Sprintf("@%s, the wheel is cooling down for you. Try again in %d seconds.",
				user, o.RemainingSeconds)}
		case roulette.FailureInvalidConfig:
			return []string{fmt.Sprintf("@%s, the prize wheel is not set up right now. Please let the streamer know.", user)}
		case roulette.FailureStorage:
			return []string{fmt.Sprintf("@%s, the prize wheel is having trouble saving data. Your tip was not spun, please let a moderator know.", user)}
		default:
			return []string{fmt.Sprintf("@%s, the prize wheel could not spin right now.", user)}
		}
	}

	if len(o.Results) == 0 {
		return nil
	}

	lines := make([]string, 0, 2)
	if len(o.Results) == 1 {
		r := o.Results[0]
		if r.IsWin() {
			lines = append(lines, fmt.Sprintf("@%s spun the wheel and landed on %s: %s!", user, r.Label, r.PrizeText()))
		} else {
			lines = append(lines, fmt.Sprintf("@%s spun the wheel and landed on %s. Better luck next time!", user, r.Label))
		}
	} else {
		lines = append(lines, formatMultiSpin(user, o))
	}

	if o.TrackingDegraded || o.CooldownDegraded {
		lines = append(lines, "Heads up: this spin could not be fully recorded. The prize still counts.")
	}
	return lines
}

// formatMultiSpin lists as many labels as fit in one chat message and keeps the total.
func formatMultiSpin(user string, o roulette.Outcome) string {
	labels := make([]string, 0, len(o.Results))
	won := 0
	for _, r := range o.Results {
		labels = append(labels, r.Label)
		won += r.Tokens
	}

	prefix := fmt.Sprintf("@%s earned %d spins: ", user, o.SpinsEarned)
	suffix := "."
	if won > 0 {
		suffix += fmt.Sprintf(" Total won: %d tokens!", won)
	}
	build := func(n int) string {
		if n == 0 {
			return prefix + fmt.Sprintf("%d results", len(labels)) + suffix
		}
		list := strings.Join(labels[:n], ", ")
		if rest := len(labels) - n; rest > 0 {
			list += fmt.Sprintf(" and %d more", rest)
		}
		return prefix + list + suffix
	}

	n := min(len(labels), maxListedResults)
	for n > 0 && utf8.RuneCountInString(build(n)) > maxNoticeLength {
		n--
	}
	return build(n)
}
