package jitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeededSourcesAgree(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
		assert.Equal(t, a.Between(time.Second, 3*time.Second), b.Between(time.Second, 3*time.Second))
	}
}

func TestBetweenStaysInRange(t *testing.T) {
	s := New(7)
	for i := 0; i < 500; i++ {
		d := s.Between(60*time.Second, 90*time.Second)
		assert.GreaterOrEqual(t, d, 60*time.Second)
		assert.LessOrEqual(t, d, 90*time.Second)
	}
	assert.Equal(t, 5*time.Second, s.Between(5*time.Second, time.Second))
}

func TestUpIsHalfOpen(t *testing.T) {
	s := New(9)
	for i := 0; i < 500; i++ {
		d := s.Up(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
	assert.Zero(t, s.Up(0))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
