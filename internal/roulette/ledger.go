package roulette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ichi0g0y/tip-roulette/internal/kvstore"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// MaxSpinHistory is the number of spins kept in TrackingData.SpinHistory.
const MaxSpinHistory = 100

var ErrCorruptLedger = errors.New("tracking ledger is corrupt")

type Win struct {
	Prize     string `json:"prize"`
	Tokens    int    `json:"tokens"`
	Timestamp int64  `json:"timestamp"`
}

type UserStat struct {
	TotalSpins  int    `json:"totalSpins"`
	TotalTipped int    `json:"totalTipped"`
	TotalWon    int    `json:"totalWon"`
	LastSpin    *int64 `json:"lastSpin"`
	Wins        []Win  `json:"wins"`
}

type SpinRecord struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	TipAmount int    `json:"tipAmount"`
	Result    string `json:"result"`
	SegmentID string `json:"segmentId"`
	Tokens    int    `json:"tokens"`
	Timestamp int64  `json:"timestamp"`
}

type SegmentStat struct {
	Label        string `json:"label"`
	Hits         int    `json:"hits"`
	TotalAwarded int    `json:"totalAwarded"`
}

// TrackingData is the whole ledger, persisted as one JSON value under TrackingKey.
type TrackingData struct {
	SessionID          string                  `json:"sessionId"`
	TotalSpins         int                     `json:"totalSpins"`
	TotalTokensSpent   int                     `json:"totalTokensSpent"`
	TotalTokensAwarded int                     `json:"totalTokensAwarded"`
	SpinHistory        []SpinRecord            `json:"spinHistory"`
	UserStats          map[string]*UserStat    `json:"userStats"`
	SegmentStats       map[string]*SegmentStat `json:"segmentStats"`
	SessionStartTime   int64                   `json:"sessionStartTime"`
	LastUpdated        int64                   `json:"lastUpdated"`
}

// PlayerStanding is one row of a leaderboard.
type PlayerStanding struct {
	Username    string `json:"username"`
	TotalSpins  int    `json:"totalSpins"`
	TotalTipped int    `json:"totalTipped"`
	TotalWon    int    `json:"totalWon"`
}

type SegmentStanding struct {
	SegmentID    string `json:"segmentId"`
	Label        string `json:"label"`
	Hits         int    `json:"hits"`
	TotalAwarded int    `json:"totalAwarded"`
}

type StatsSummary struct {
	SessionID              string  `json:"sessionId"`
	TotalSpins             int     `json:"totalSpins"`
	TotalTokensSpent       int     `json:"totalTokensSpent"`
	TotalTokensAwarded     int     `json:"totalTokensAwarded"`
	NetProfit              int     `json:"netProfit"`
	UniquePlayers          int     `json:"uniquePlayers"`
	AvgSpinsPerPlayer      float64 `json:"avgSpinsPerPlayer"`
	SessionStartTime       int64   `json:"sessionStartTime"`
	SessionDurationMinutes int64   `json:"sessionDurationMinutes"`
	LastUpdated            int64   `json:"lastUpdated"`
}

type LedgerOption func(*Ledger)

// WithWinsLimit keeps at most n wins per user (oldest dropped). 0 keeps everything.
func WithWinsLimit(n int) LedgerOption {
	return func(l *Ledger) {
		if n >= 0 {
			l.winsLimit = n
		}
	}
}

func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// Ledger accumulates spin statistics in the key-value store.
type Ledger struct {
	store     kvstore.Store
	mu        sync.Mutex
	winsLimit int
	now       func() time.Time
}

func NewLedger(store kvstore.Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) newTrackingData() *TrackingData {
	nowMs := l.now().UnixMilli()
	return &TrackingData{
		SessionID:        uuid.NewString(),
		SpinHistory:      []SpinRecord{},
		UserStats:        map[string]*UserStat{},
		SegmentStats:     map[string]*SegmentStat{},
		SessionStartTime: nowMs,
		LastUpdated:      nowMs,
	}
}

func (l *Ledger) decode(raw string, found bool) (*TrackingData, error) {
	if !found || raw == "" {
		// 未保存の ledger は読むたびに同じ値を返す。セッションは最初の書き込みで始まる
		return &TrackingData{
			SpinHistory:  []SpinRecord{},
			UserStats:    map[string]*UserStat{},
			SegmentStats: map[string]*SegmentStat{},
		}, nil
	}
	var data TrackingData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}
	if data.UserStats == nil {
		data.UserStats = map[string]*UserStat{}
	}
	if data.SegmentStats == nil {
		data.SegmentStats = map[string]*SegmentStat{}
	}
	if data.SpinHistory == nil {
		data.SpinHistory = []SpinRecord{}
	}
	return &data, nil
}

// Load returns the current ledger. When nothing is stored it returns an empty ledger
// with no session id and zero timestamps.
func (l *Ledger) Load(ctx context.Context) (*TrackingData, error) {
	raw, found, err := l.store.Get(ctx, TrackingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracking data: %w", err)
	}
	return l.decode(raw, found)
}

// RecordSpin adds one spin to the ledger. tipAmount is the part of the tip charged to this spin.
func (l *Ledger) RecordSpin(ctx context.Context, username string, tipAmount int, result SpinResult) (SpinRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := NormalizeUsername(username)
	id, err := gonanoid.New()
	if err != nil {
		logger.Warn("Failed to generate spin id", zap.Error(err))
	}

	var record SpinRecord
	err = l.store.Update(ctx, TrackingKey, func(cur string, found bool) (string, error) {
		data, err := l.decode(cur, found)
		if err != nil {
			return "", err
		}

		nowMs := l.now().UnixMilli()
		if data.SessionID == "" {
			data.SessionID = uuid.NewString()
			data.SessionStartTime = nowMs
		}

		record = SpinRecord{
			ID:        id,
			Username:  key,
			TipAmount: tipAmount,
			Result:    result.Label,
			SegmentID: result.SegmentID,
			Tokens:    result.Tokens,
			Timestamp: nowMs,
		}

		data.TotalSpins++
		data.TotalTokensSpent += tipAmount
		data.TotalTokensAwarded += result.Tokens

		stat, ok := data.UserStats[key]
		if !ok {
			stat = &UserStat{Wins: []Win{}}
			data.UserStats[key] = stat
		}
		stat.TotalSpins++
		stat.TotalTipped += tipAmount
		stat.TotalWon += result.Tokens
		stat.LastSpin = &nowMs
		if result.IsWin() {
			stat.Wins = append(stat.Wins, Win{Prize: result.PrizeText(), Tokens: result.Tokens, Timestamp: nowMs})
			if l.winsLimit > 0 && len(stat.Wins) > l.winsLimit {
				stat.Wins = append([]Win(nil), stat.Wins[len(stat.Wins)-l.winsLimit:]...)
			}
		}

		history := make([]SpinRecord, 0, MaxSpinHistory)
		history = append(history, record)
		history = append(history, data.SpinHistory...)
		if len(history) > MaxSpinHistory {
			history = history[:MaxSpinHistory]
		}
		data.SpinHistory = history

		segKey := result.SegmentID
		if segKey == "" {
			segKey = result.Label
		}
		seg, ok := data.SegmentStats[segKey]
		if !ok {
			seg = &SegmentStat{Label: result.Label}
			data.SegmentStats[segKey] = seg
		}
		seg.Label = result.Label
		seg.Hits++
		seg.TotalAwarded += result.Tokens

		data.LastUpdated = nowMs

		encoded, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("failed to encode tracking data: %w", err)
		}
		return string(encoded), nil
	})
	if err != nil {
		logger.Error("Failed to record spin",
			zap.String("username", key),
			zap.String("segment", result.SegmentID),
			zap.Error(err))
		return SpinRecord{}, fmt.Errorf("failed to record spin: %w", err)
	}

	return record, nil
}

// GetUserStats returns found=false for a user who has never spun.
func (l *Ledger) GetUserStats(ctx context.Context, username string) (UserStat, bool, error) {
	data, err := l.Load(ctx)
	if err != nil {
		return UserStat{}, false, err
	}
	stat, ok := data.UserStats[NormalizeUsername(username)]
	if !ok {
		return UserStat{}, false, nil
	}
	out := *stat
	out.Wins = append([]Win(nil), stat.Wins...)
	return out, true, nil
}

// GetLeaderboard orders players by total tipped. limit <= 0 returns every player.
func (l *Ledger) GetLeaderboard(ctx context.Context, limit int) ([]PlayerStanding, error) {
	data, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	standings := standingsOf(data, func(*UserStat) bool { return true })
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].TotalTipped != standings[j].TotalTipped {
			return standings[i].TotalTipped > standings[j].TotalTipped
		}
		return standings[i].Username < standings[j].Username
	})
	return truncate(standings, limit), nil
}

// GetBiggestWinners orders players with winnings by total won.
func (l *Ledger) GetBiggestWinners(ctx context.Context, limit int) ([]PlayerStanding, error) {
	data, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	standings := standingsOf(data, func(s *UserStat) bool { return s.TotalWon > 0 })
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].TotalWon != standings[j].TotalWon {
			return standings[i].TotalWon > standings[j].TotalWon
		}
		return standings[i].Username < standings[j].Username
	})
	return truncate(standings, limit), nil
}

// GetRecentSpins returns up to limit spins, newest first.
func (l *Ledger) GetRecentSpins(ctx context.Context, limit int) ([]SpinRecord, error) {
	data, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return truncate(append([]SpinRecord(nil), data.SpinHistory...), limit), nil
}

// GetSegmentStats returns per-segment hit counts, most hit first.
func (l *Ledger) GetSegmentStats(ctx context.Context) ([]SegmentStanding, error) {
	data, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SegmentStanding, 0, len(data.SegmentStats))
	for id, s := range data.SegmentStats {
		out = append(out, SegmentStanding{SegmentID: id, Label: s.Label, Hits: s.Hits, TotalAwarded: s.TotalAwarded})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].SegmentID < out[j].SegmentID
	})
	return out, nil
}

func (l *Ledger) GetStatsSummary(ctx context.Context) (StatsSummary, error) {
	data, err := l.Load(ctx)
	if err != nil {
		return StatsSummary{}, err
	}

	var duration int64
	if data.SessionStartTime > 0 {
		duration = (l.now().UnixMilli() - data.SessionStartTime) / 60000
	}

	players := len(data.UserStats)
	avg := 0.0
	if players > 0 {
		avg = float64(data.TotalSpins) / float64(players)
	}

	return StatsSummary{
		SessionID:              data.SessionID,
		TotalSpins:             data.TotalSpins,
		TotalTokensSpent:       data.TotalTokensSpent,
		TotalTokensAwarded:     data.TotalTokensAwarded,
		NetProfit:              data.TotalTokensSpent - data.TotalTokensAwarded,
		UniquePlayers:          players,
		AvgSpinsPerPlayer:      avg,
		SessionStartTime:       data.SessionStartTime,
		SessionDurationMinutes: duration,
		LastUpdated:            data.LastUpdated,
	}, nil
}

// ResetTrackingData discards every statistic and starts a new session.
func (l *Ledger) ResetTrackingData(ctx context.Context) (*TrackingData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.newTrackingData()
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tracking data: %w", err)
	}
	if err := l.store.Set(ctx, TrackingKey, string(encoded)); err != nil {
		logger.Error("Failed to reset tracking data", zap.Error(err))
		return nil, fmt.Errorf("failed to reset tracking data: %w", err)
	}

	logger.Info("Tracking data reset", zap.String("session_id", data.SessionID))
	return data, nil
}

func standingsOf(data *TrackingData, keep func(*UserStat) bool) []PlayerStanding {
	out := make([]PlayerStanding, 0, len(data.UserStats))
	for name, s := range data.UserStats {
		if !keep(s) {
			continue
		}
		out = append(out, PlayerStanding{
			Username:    name,
			TotalSpins:  s.TotalSpins,
			TotalTipped: s.TotalTipped,
			TotalWon:    s.TotalWon,
		})
	}
	return out
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
