package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-shield/logger"
	"github.com/saiset-co/sai-shield/types"
)

func newTestFactory(t *testing.T, config *types.BackendConfig) *Factory {
	t.Helper()

	f := NewFactory(logger.NewNop(), nil, config)
	t.Cleanup(f.Reset)

	return f
}

func TestFactoryNoCandidatesFallsBackToMemory(t *testing.T) {
	f := newTestFactory(t, &types.BackendConfig{})

	resolved := f.Acquire(context.Background())
	require.NotNil(t, resolved)
	assert.Equal(t, "memory", resolved.Name())
	assert.False(t, resolved.Distributed())
}

func TestFactoryNilConfigFallsBackToMemory(t *testing.T) {
	f := newTestFactory(t, nil)

	resolved := f.Acquire(context.Background())
	require.NotNil(t, resolved)
	assert.Equal(t, "memory", resolved.Name())
}

func TestFactoryResolvesRedisURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	f := newTestFactory(t, &types.BackendConfig{URL: "redis://" + mr.Addr()})

	resolved := f.Acquire(context.Background())
	assert.Equal(t, "redis-url", resolved.Name())
	assert.True(t, resolved.Distributed())
}

func TestFactoryPriorityRestKVBeforeRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	stub := newRestStub("token")
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   server.URL,
		RestToken: "token",
		URL:       "redis://" + mr.Addr(),
	})

	resolved := f.Acquire(context.Background())
	assert.Equal(t, "rest-kv", resolved.Name())
}

func TestFactoryFallsThroughDeadCandidate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   "http://127.0.0.1:1",
		RestToken: "token",
		URL:       "redis://" + mr.Addr(),
	})

	resolved := f.Acquire(context.Background())
	assert.Equal(t, "redis-url", resolved.Name())
}

func TestFactoryAllCandidatesDeadFallsBackToMemory(t *testing.T) {
	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   "http://127.0.0.1:1",
		RestToken: "token",
		URL:       "redis://127.0.0.1:1",
		Host:      "127.0.0.1",
		Port:      1,
	})

	resolved := f.Acquire(context.Background())
	assert.Equal(t, "memory", resolved.Name())
}

func TestFactoryProbeMismatchRejectsCandidate(t *testing.T) {
	// A backend that acknowledges writes but returns garbage on read must
	// not be resolved.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"Z2FyYmFnZQ=="}`))
	}))
	defer server.Close()

	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   server.URL,
		RestToken: "token",
	})

	resolved := f.Acquire(context.Background())
	assert.Equal(t, "memory", resolved.Name())
}

func TestFactoryMemoizesResolution(t *testing.T) {
	stub := newRestStub("token")
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   server.URL,
		RestToken: "token",
	})

	first := f.Acquire(context.Background())
	second := f.Acquire(context.Background())

	assert.Same(t, first, second)
	assert.Equal(t, 1, stub.commandCount("SET"), "probe should run once")
}

func TestFactoryConcurrentAcquireSingleProbe(t *testing.T) {
	stub := newRestStub("token")
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   server.URL,
		RestToken: "token",
	})

	const goroutines = 32

	var wg sync.WaitGroup
	backends := make([]types.Backend, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			backends[i] = f.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, backends[0], backends[i])
	}

	assert.Equal(t, 1, stub.commandCount("SET"), "concurrent first acquires share one probe")
}

func TestFactoryResetForcesReResolution(t *testing.T) {
	stub := newRestStub("token")
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	f := newTestFactory(t, &types.BackendConfig{
		RestURL:   server.URL,
		RestToken: "token",
	})

	first := f.Acquire(context.Background())
	f.Reset()
	second := f.Acquire(context.Background())

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, stub.commandCount("SET"), "reset should trigger a fresh probe")
}

func TestFactoryHealthChecker(t *testing.T) {
	t.Run("distributed healthy", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		f := newTestFactory(t, &types.BackendConfig{URL: "redis://" + mr.Addr()})

		check := f.HealthChecker()(context.Background())
		assert.Equal(t, types.StatusHealthy, check.Status)
	})

	t.Run("memory fallback degraded", func(t *testing.T) {
		f := newTestFactory(t, &types.BackendConfig{})

		check := f.HealthChecker()(context.Background())
		assert.Equal(t, types.StatusDegraded, check.Status)
	})
}
