package roulette

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// RandomSource returns floats uniformly distributed in [0, 1).
type RandomSource interface {
	Float64() float64
}

type cryptoSource struct{}

// NewCryptoSource returns a RandomSource backed by crypto/rand.
func NewCryptoSource() RandomSource {
	return cryptoSource{}
}

func (cryptoSource) Float64() float64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		logger.Warn("crypto/rand failed, falling back to math/rand", zap.Error(err))
		return rand.Float64()
	}
	// 上位53bitを使って [0,1) に変換
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource returns a deterministic RandomSource. Safe for concurrent use.
func NewSeededSource(seed uint64) RandomSource {
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
