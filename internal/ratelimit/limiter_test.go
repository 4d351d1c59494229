package ratelimit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_FiveThenRejectThenReset(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(5, 15*time.Minute, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		d := l.Allow("10.0.0.1")
		require.True(t, d.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
		clock.Advance(time.Minute)
	}

	d := l.Allow("10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 10*time.Minute, d.RetryAfter)

	// other identities are unaffected
	assert.True(t, l.Allow("10.0.0.2").Allowed)

	clock.Advance(10 * time.Minute)
	d = l.Allow("10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiter_RejectionsDoNotExtendWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(1, time.Minute, WithClock(clock.Now))

	require.True(t, l.Allow("k").Allowed)
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("k").Allowed)
	}
	clock.Advance(time.Minute)
	assert.True(t, l.Allow("k").Allowed)
}

func TestLimiter_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	l := NewLimiter(50, time.Hour)
	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("same").Allowed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, admitted)
}

func TestLimiter_FullMapKeepsLiveWindows(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(1, time.Hour, WithClock(clock.Now), WithMaxEntries(5))

	require.True(t, l.Allow("blocked").Allowed)
	require.False(t, l.Allow("blocked").Allowed)
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		require.True(t, l.Allow(fmt.Sprintf("ip-%d", i)).Allowed)
	}
	require.Equal(t, 5, l.Len())

	// flooding with fresh identities must not free the blocked one
	for i := 0; i < 20; i++ {
		d := l.Allow(fmt.Sprintf("flood-%d", i))
		assert.False(t, d.Allowed)
		assert.Equal(t, time.Hour-4*time.Second, d.RetryAfter)
	}
	assert.Equal(t, 5, l.Len())
	assert.False(t, l.Allow("blocked").Allowed)

	// once windows elapse they make room again
	clock.Advance(time.Hour)
	d := l.Allow("flood-0")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_Reset(t *testing.T) {
	t.Parallel()

	l := NewLimiter(1, time.Hour)
	require.True(t, l.Allow("k").Allowed)
	require.False(t, l.Allow("k").Allowed)
	l.Reset("k")
	assert.True(t, l.Allow("k").Allowed)
}

func TestRedisLimiter_FallsBackWhenUnreachable(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	l := NewRedisLimiter(rdb, "rl-test", 2, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRedisLimiter_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	prefix := "rl-test-" + uuid.NewString()
	l := NewRedisLimiter(rdb, prefix, 5, time.Minute)
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "ip")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}
