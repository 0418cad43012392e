package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounter 进程内计数器
type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeCounter) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Expire(_ context.Context, key string, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = expiration
	return nil
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	counter := newFakeCounter()
	limiter := NewRateLimiter(counter, "login", 3, time.Hour)

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// 不同 key 独立计数
	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.Len(t, counter.expires, 2)
	for key, ttl := range counter.expires {
		assert.True(t, strings.HasPrefix(key, "login:"), key)
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestRateLimiter_CounterError(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("redis down")
	limiter := NewRateLimiter(counter, "login", 3, time.Minute)

	allowed, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.False(t, allowed)
	assert.Contains(t, err.Error(), "redis down")
}
