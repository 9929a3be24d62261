// Package jitter wraps a seedable random source shared by proxy selection,
// identity headers, retry jitter and campaign pacing.
package jitter

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Source is a goroutine-safe random source. A fixed seed makes every
// consumer deterministic, which the tests rely on.
type Source struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a source seeded with seed.
func New(seed uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandom returns a source seeded from the runtime's entropy.
func NewRandom() *Source {
	return &Source{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// IntN returns a value in [0, n). n must be positive.
func (s *Source) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// Up returns a duration in [0, max). Non-positive max yields zero.
func (s *Source) Up(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.r.Int64N(int64(max)))
}

// Between returns a duration in [min, max]. When max <= min it returns min.
func (s *Source) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.r.Int64N(int64(max-min)+1))
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
