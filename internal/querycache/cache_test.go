package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetOrCompute(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	compute := func(context.Context) (any, error) {
		calls.Add(1)
		return map[string]int{"total": 42}, nil
	}

	value, etag, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"total": 42}, value)
	assert.NotEmpty(t, etag)

	// Second call is served from the cache.
	again, sameTag, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, value, again)
	assert.Equal(t, etag, sameTag)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_CoalescesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	release := make(chan struct{})
	slowCompute := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "result", nil
	}

	const callers = 20
	var wg sync.WaitGroup
	values := make([]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], _, errs[i] = c.GetOrCompute(ctx, "k", time.Minute, slowCompute)
		}(i)
	}

	// Let every goroutine reach the flight before releasing the compute.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "compute must run exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "result", values[i])
	}
}

func TestCache_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	failOnce := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("upstream down")
		}
		return "recovered", nil
	}

	_, _, err := c.GetOrCompute(ctx, "k", time.Minute, failOnce)
	require.Error(t, err)

	value, _, err := c.GetOrCompute(ctx, "k", time.Minute, failOnce)
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(withClock(func() time.Time { return now }))

	var calls atomic.Int32
	compute := func(context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}

	first, _, err := c.GetOrCompute(ctx, "k", 30*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(1), first)

	now = now.Add(31 * time.Second)
	second, _, err := c.GetOrCompute(ctx, "k", 30*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), second)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	compute := func(context.Context) (any, error) {
		return calls.Add(1), nil
	}

	_, _, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
	require.NoError(t, err)

	c.Invalidate("k")
	value, _, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), value)
}

func TestCache_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	c := New()

	a, _, err := c.GetOrCompute(ctx, "a", time.Minute, func(context.Context) (any, error) {
		return "va", nil
	})
	require.NoError(t, err)
	b, _, err := c.GetOrCompute(ctx, "b", time.Minute, func(context.Context) (any, error) {
		return "vb", nil
	})
	require.NoError(t, err)

	assert.Equal(t, "va", a)
	assert.Equal(t, "vb", b)
	assert.Equal(t, 2, c.Len())
}

func TestCache_BoundedSize(t *testing.T) {
	ctx := context.Background()
	c := New(WithMaxEntries(2))

	for _, key := range []string{"a", "b", "c"} {
		k := key
		_, _, err := c.GetOrCompute(ctx, k, time.Minute, func(context.Context) (any, error) {
			return k, nil
		})
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, c.Len(), 2)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := New()

	_, _, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
