package roulette

import (
	"errors"
	"math"
)

var (
	ErrNoSegments    = errors.New("no segments")
	ErrInvalidWeight = errors.New("segment weight must be positive")
)

// Selector picks wheel segments by weight.
type Selector struct {
	src RandomSource
}

func NewSelector(src RandomSource) *Selector {
	if src == nil {
		src = NewCryptoSource()
	}
	return &Selector{src: src}
}

// Select returns one segment chosen with probability weight/Σweight.
func (s *Selector) Select(segments []Segment) (Segment, error) {
	idx, err := s.Pick(segments)
	if err != nil {
		return Segment{}, err
	}
	return segments[idx], nil
}

// Pick is Select returning the index into segments.
func (s *Selector) Pick(segments []Segment) (int, error) {
	if len(segments) == 0 {
		return 0, ErrNoSegments
	}

	total := 0.0
	for _, seg := range segments {
		w := effectiveWeight(seg)
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return 0, ErrInvalidWeight
		}
		total += w
	}

	r := s.src.Float64() * total
	cum := 0.0
	for i, seg := range segments {
		cum += effectiveWeight(seg)
		if r < cum {
			return i, nil
		}
	}

	// 浮動小数点誤差で走査を抜けた場合のみ到達する
	return uniformIndex(s.src, len(segments)), nil
}

func effectiveWeight(seg Segment) float64 {
	if seg.Weight == 0 {
		return 1
	}
	return seg.Weight
}

func uniformIndex(src RandomSource, n int) int {
	idx := int(src.Float64() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
