package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newMemoryLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(0, WithMemoryClock(clock.Now))
	t.Cleanup(store.Close)
	return New(store, Config{Max: max, Window: window}), store, clock
}

func TestAdmitFirstNThenDeny(t *testing.T) {
	limiter, _, clock := newMemoryLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := limiter.Admit(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i)
		require.Equal(t, int64(i), res.Current)
		require.Equal(t, 5-i, res.Remaining)
	}

	res, err := limiter.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 5, res.Limit)
	require.Equal(t, 0, res.Remaining)
	require.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)

	clock.Advance(59 * time.Second)
	res, err = limiter.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	clock.Advance(time.Second)
	res, err = limiter.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Current)
}

func TestDeniedRequestsAreCounted(t *testing.T) {
	limiter, _, _ := newMemoryLimiter(t, 2, time.Minute)
	ctx := context.Background()

	var last Result
	for i := 0; i < 10; i++ {
		res, err := limiter.Admit(ctx, "k")
		require.NoError(t, err)
		last = res
	}
	require.Equal(t, int64(10), last.Current)
	require.False(t, last.Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _, _ := newMemoryLimiter(t, 1, time.Minute)
	ctx := context.Background()

	res, err := limiter.Admit(ctx, "a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Admit(ctx, "b")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Admit(ctx, "a")
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	limiter, _, _ := newMemoryLimiter(t, 5, time.Minute)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Admit(context.Background(), "shared")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, allowed)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, ErrStoreUnavailable
}

func TestAdmitFailsOpen(t *testing.T) {
	limiter := New(failingStore{}, Config{})

	res, err := limiter.Admit(context.Background(), "k")
	require.True(t, errors.Is(err, ErrStoreUnavailable))
	require.True(t, res.Allowed)
	require.Equal(t, DefaultMax, res.Limit)
	require.Equal(t, DefaultWindow, limiter.Config().Window)
}

func TestSweepEvictsStaleWindows(t *testing.T) {
	limiter, store, clock := newMemoryLimiter(t, 5, time.Minute)
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "old")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = limiter.Admit(ctx, "new")
	require.NoError(t, err)

	store.Sweep(time.Minute)
	require.Equal(t, 1, store.Len())
}
