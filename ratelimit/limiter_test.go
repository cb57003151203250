package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-shield/backend"
	"github.com/saiset-co/sai-shield/logger"
	"github.com/saiset-co/sai-shield/types"
)

func setupLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	factory := backend.NewFactory(logger.NewNop(), nil, &types.BackendConfig{
		URL: "redis://" + mr.Addr(),
	})
	t.Cleanup(factory.Reset)

	limiter := NewLimiter(factory, logger.NewNop(), nil, &types.RateLimitConfig{Enabled: true})

	return mr, limiter
}

func testClass(limit int) types.RateClass {
	return types.RateClass{Name: "api", Limit: limit, Window: time.Minute}
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	_, limiter := setupLimiter(t)
	ctx := context.Background()

	class := testClass(10)

	for i := 0; i < 10; i++ {
		decision := limiter.Allow(ctx, "client-1", class)
		assert.True(t, decision.Allowed, "request %d within the budget", i+1)
		assert.Equal(t, 10-(i+1), decision.Remaining)
	}

	decision := limiter.Allow(ctx, "client-1", class)
	assert.False(t, decision.Allowed, "request limit+1 must be rejected")
	assert.Equal(t, 0, decision.Remaining)
	assert.GreaterOrEqual(t, decision.RetryAfter, time.Second)
	assert.False(t, decision.ResetAt.IsZero())
}

func TestLimiterRejectedRequestsConsumeBudget(t *testing.T) {
	_, limiter := setupLimiter(t)
	ctx := context.Background()

	class := testClass(3)

	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, "client-1", class)
	}

	// Hammering while blocked keeps the counter climbing, so the window
	// never quietly reopens mid-assault.
	for i := 0; i < 5; i++ {
		decision := limiter.Allow(ctx, "client-1", class)
		assert.False(t, decision.Allowed)
	}
}

func TestLimiterClientsAreIndependent(t *testing.T) {
	_, limiter := setupLimiter(t)
	ctx := context.Background()

	class := testClass(2)

	limiter.Allow(ctx, "client-1", class)
	limiter.Allow(ctx, "client-1", class)

	blocked := limiter.Allow(ctx, "client-1", class)
	assert.False(t, blocked.Allowed)

	fresh := limiter.Allow(ctx, "client-2", class)
	assert.True(t, fresh.Allowed, "another client has its own budget")
}

func TestLimiterClassesAreIndependent(t *testing.T) {
	_, limiter := setupLimiter(t)
	ctx := context.Background()

	auth := types.RateClass{Name: "auth", Limit: 1, Window: time.Minute}
	api := types.RateClass{Name: "api", Limit: 5, Window: time.Minute}

	limiter.Allow(ctx, "client-1", auth)
	blocked := limiter.Allow(ctx, "client-1", auth)
	assert.False(t, blocked.Allowed)

	decision := limiter.Allow(ctx, "client-1", api)
	assert.True(t, decision.Allowed, "auth exhaustion must not charge the api class")
}

func TestLimiterWindowResets(t *testing.T) {
	mr, limiter := setupLimiter(t)
	ctx := context.Background()

	class := testClass(2)

	limiter.Allow(ctx, "client-1", class)
	limiter.Allow(ctx, "client-1", class)
	assert.False(t, limiter.Allow(ctx, "client-1", class).Allowed)

	mr.FastForward(2 * time.Minute)

	decision := limiter.Allow(ctx, "client-1", class)
	assert.True(t, decision.Allowed, "a new window starts with a fresh budget")
	assert.Equal(t, 1, decision.Remaining)
}

func TestLimiterEmptyClientAllowed(t *testing.T) {
	_, limiter := setupLimiter(t)

	decision := limiter.Allow(context.Background(), "", testClass(1))
	assert.True(t, decision.Allowed)
}

func TestLimiterInvalidClassAllowed(t *testing.T) {
	_, limiter := setupLimiter(t)

	decision := limiter.Allow(context.Background(), "client-1", types.RateClass{})
	assert.True(t, decision.Allowed)
}

func TestLimiterDisabledAllowsEverything(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	factory := backend.NewFactory(logger.NewNop(), nil, &types.BackendConfig{
		URL: "redis://" + mr.Addr(),
	})
	defer factory.Reset()

	limiter := NewLimiter(factory, logger.NewNop(), nil, &types.RateLimitConfig{Enabled: false})

	class := testClass(1)
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow(context.Background(), "client-1", class).Allowed)
	}
}

func TestLimiterConcurrentNeverOverAllows(t *testing.T) {
	_, limiter := setupLimiter(t)
	ctx := context.Background()

	class := testClass(50)

	const requests = 200

	var allowed atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, "client-1", class).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load(), "exactly limit requests pass under contention")
}

func TestLimiterFailsOpenToLocalWindow(t *testing.T) {
	mr, limiter := setupLimiter(t)
	ctx := context.Background()

	class := testClass(3)

	// Prime resolution, then kill the backend.
	limiter.Allow(ctx, "client-1", class)
	mr.Close()

	// Counting continues on the per-process fallback; traffic is not
	// blocked outright.
	allowedCount := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow(ctx, "fallback-client", class).Allowed {
			allowedCount++
		}
	}

	assert.Equal(t, 3, allowedCount, "local window still enforces the budget")
}

func TestLocalCounterWindows(t *testing.T) {
	lc := newLocalCounter()

	for i := int64(1); i <= 5; i++ {
		count := lc.incr("key", time.Minute)
		assert.Equal(t, i, count.Count)
		assert.Greater(t, count.Remaining, time.Duration(0))
	}

	other := lc.incr("other", time.Minute)
	assert.Equal(t, int64(1), other.Count)
}

func TestLocalCounterWindowExpiry(t *testing.T) {
	lc := newLocalCounter()

	lc.incr("key", 10*time.Millisecond)
	lc.incr("key", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	count := lc.incr("key", 10*time.Millisecond)
	assert.Equal(t, int64(1), count.Count, "expired window restarts")
}

func TestLocalCounterConcurrent(t *testing.T) {
	lc := newLocalCounter()

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				lc.incr(fmt.Sprintf("key-%d", g%2), time.Minute)
			}
		}(g)
	}
	wg.Wait()

	final := lc.incr("key-0", time.Minute)
	assert.Equal(t, int64(goroutines/2*perGoroutine+1), final.Count)
}

func TestClassesFromConfig(t *testing.T) {
	t.Run("nil config keeps defaults", func(t *testing.T) {
		classes := ClassesFromConfig(nil)
		assert.Equal(t, 5, classes[ClassAuth].Limit)
		assert.Equal(t, 30, classes[ClassAPI].Limit)
		assert.Equal(t, 10, classes[ClassInference].Limit)
		assert.Equal(t, 10, classes[ClassWidget].Limit)
	})

	t.Run("partial overlay", func(t *testing.T) {
		classes := ClassesFromConfig(&types.RateLimitConfig{
			Inference: &types.RateClassConfig{Limit: 3, Window: 30 * time.Second},
		})

		assert.Equal(t, 3, classes[ClassInference].Limit)
		assert.Equal(t, 30*time.Second, classes[ClassInference].Window)
		assert.Equal(t, 5, classes[ClassAuth].Limit, "unmentioned classes keep defaults")
	})

	t.Run("zero limit ignored", func(t *testing.T) {
		classes := ClassesFromConfig(&types.RateLimitConfig{
			API: &types.RateClassConfig{Limit: 0},
		})
		assert.Equal(t, 30, classes[ClassAPI].Limit)
	})
}
