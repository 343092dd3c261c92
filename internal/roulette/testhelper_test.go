package roulette

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/kvstore"
)

// fixedSource は常に同じ値を返す
type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

// sequenceSource returns values in order and repeats the last one.
type sequenceSource struct {
	mu     sync.Mutex
	values []float64
	i      int
}

func (s *sequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errStoreDown = errors.New("store down")

// flakyStore wraps a store and fails selected operations.
type flakyStore struct {
	kvstore.Store
	failGet    func(key string) bool
	failSet    func(key string) bool
	failUpdate func(key string) bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failGet != nil && s.failGet(key) {
		return "", false, errStoreDown
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if s.failSet != nil && s.failSet(key) {
		return errStoreDown
	}
	return s.Store.Set(ctx, key, value)
}

func (s *flakyStore) Update(ctx context.Context, key string, fn kvstore.UpdateFunc) error {
	if s.failUpdate != nil && s.failUpdate(key) {
		return errStoreDown
	}
	return s.Store.Update(ctx, key, fn)
}

type testEngine struct {
	store    kvstore.Store
	clock    *fakeClock
	ledger   *Ledger
	resolver *Resolver
	configs  *ConfigStore
}

func newTestEngine(store kvstore.Store, src RandomSource) *testEngine {
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	clock := newFakeClock()
	ledger := NewLedger(store, WithLedgerClock(clock.Now))
	resolver := NewResolver(store, NewSelector(src), ledger, WithClock(clock.Now))
	return &testEngine{
		store:    store,
		clock:    clock,
		ledger:   ledger,
		resolver: resolver,
		configs:  NewConfigStore(store),
	}
}

func twoSegmentConfig() Config {
	return Config{
		SpinCost:           50,
		SpinCooldown:       10,
		AllowMultipleSpins: false,
		SpinRotations:      5,
		SpinDuration:       4000,
		TrackingEnabled:    true,
		Segments: []Segment{
			{ID: "a", Label: "Nothing", Tokens: 0, Weight: 5},
			{ID: "b", Label: "Jackpot", Tokens: 500, Weight: 1},
		},
	}
}
