package flood

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryLimiterWindowBoundary(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter()
	l.SetClock(clock.Now)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "10.0.0.1", ActionLogin, 3)
		require.NoError(t, err)
		require.True(t, res.Allowed, "attempt %d should be allowed", i+1)
	}

	res, err := l.Allow(ctx, "10.0.0.1", ActionLogin, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.LessOrEqual(t, res.RetryAfterSeconds(), 60)
	assert.GreaterOrEqual(t, res.RetryAfterSeconds(), 1)

	// 別のIP・別のアクションは独立して数える
	res, _ = l.Allow(ctx, "10.0.0.2", ActionLogin, 3)
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "10.0.0.1", ActionSearch, 3)
	assert.True(t, res.Allowed)

	clock.Advance(61 * time.Second)
	res, err = l.Allow(ctx, "10.0.0.1", ActionLogin, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterDropsIdleKeys(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter()
	l.SetClock(clock.Now)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		_, err := l.Allow(ctx, ip, ActionLogin, 3)
		require.NoError(t, err)
	}
	assert.Len(t, l.records, 3)

	clock.Advance(Window + time.Second)
	_, err := l.Allow(ctx, "10.0.0.9", ActionLogin, 3)
	require.NoError(t, err)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.records, 1, "ウィンドウを過ぎた IP の記録は残らない")
	assert.Contains(t, l.records, ActionLogin+"|10.0.0.9")
}

func TestMemoryLimiterRetryAfterTracksOldestEntry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_000, 0)}
	l := NewMemoryLimiter()
	l.SetClock(clock.Now)

	_, _ = l.Allow(ctx, "ip", ActionLogin, 2)
	clock.Advance(20 * time.Second)
	_, _ = l.Allow(ctx, "ip", ActionLogin, 2)
	clock.Advance(10 * time.Second)

	res, err := l.Allow(ctx, "ip", ActionLogin, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30, res.RetryAfterSeconds())
}

func TestMemoryLimiterDisabled(t *testing.T) {
	l := NewMemoryLimiter()
	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), "ip", ActionLogin, 0)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestMemoryLimiterConcurrentNeverExceedsLimit(t *testing.T) {
	l := NewMemoryLimiter()
	const limit = 5

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(context.Background(), "ip", ActionLogin, limit)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, limit, allowed)
}

func TestRetryAfterClamp(t *testing.T) {
	now := time.Unix(100, 0)
	assert.Equal(t, time.Second, RetryAfter(now.Add(-Window), now))
	assert.Equal(t, Window, RetryAfter(now, now))
	assert.Equal(t, Window, RetryAfter(now.Add(time.Hour), now))
}
