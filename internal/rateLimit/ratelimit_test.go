package rateLimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"github.com/robertarktes/event-ticket-fulfillment/internal/rateLimit"
	"github.com/stretchr/testify/assert"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memCounter) Incr(ctx context.Context, key string, period time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int64{}
	}
	m.counts[key]++
	return m.counts[key], nil
}

func TestAllow(t *testing.T) {
	rl := rateLimit.NewRateLimiter(&memCounter{}, observability.NopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(ctx, "user:a", 3, time.Minute))
	}
	assert.False(t, rl.Allow(ctx, "user:a", 3, time.Minute))
	assert.True(t, rl.Allow(ctx, "user:b", 3, time.Minute))
}

func TestAllow_FailsOpen(t *testing.T) {
	rl := rateLimit.NewRateLimiter(&memCounter{err: errors.New("down")}, observability.NopLogger())
	assert.True(t, rl.Allow(context.Background(), "user:a", 1, time.Minute))
}
