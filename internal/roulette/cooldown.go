package roulette

import (
	"math"
	"strconv"
	"strings"
	"time"
)

type CooldownStatus struct {
	CanSpin          bool `json:"canSpin"`
	RemainingSeconds int  `json:"remainingSeconds"`
}

// CheckCooldown compares a stored last-spin time (decimal unix milliseconds) with now.
// Missing or unreadable timestamps never block a spin.
func CheckCooldown(lastSpin string, cooldownSeconds int, now time.Time) CooldownStatus {
	open := CooldownStatus{CanSpin: true}
	if cooldownSeconds <= 0 {
		return open
	}

	lastMs, err := strconv.ParseFloat(strings.TrimSpace(lastSpin), 64)
	if err != nil || math.IsNaN(lastMs) || math.IsInf(lastMs, 0) {
		return open
	}

	elapsed := float64(now.UnixMilli()-int64(lastMs)) / 1000
	cooldown := float64(cooldownSeconds)
	if elapsed >= cooldown {
		return open
	}

	remaining := int(math.Ceil(cooldown - elapsed))
	// 未来の時刻が保存されていてもクールダウン以上は待たせない
	if remaining > cooldownSeconds {
		remaining = cooldownSeconds
	}
	return CooldownStatus{CanSpin: false, RemainingSeconds: remaining}
}

// FormatSpinTime encodes t the way CheckCooldown expects it.
func FormatSpinTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
