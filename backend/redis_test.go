package backend

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-shield/types"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisFromURL("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return mr, store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []byte("value"), time.Minute))

	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)

	exists, err := store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "key"))

	_, err = store.Get(ctx, "key")
	assert.ErrorIs(t, err, types.ErrCacheMiss)
}

func TestRedisStoreMissIsMappedError(t *testing.T) {
	_, store := setupRedisStore(t)

	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, types.ErrCacheMiss)
}

func TestRedisStoreTTL(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []byte("v"), time.Minute))

	ttl := mr.TTL("key")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, types.ErrCacheMiss)
}

func TestRedisStoreBinaryValue(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	binary := []byte{0x00, 0x01, 0xFF, 0xFE, 0x7F}
	require.NoError(t, store.Set(ctx, "bin", binary, time.Minute))

	value, err := store.Get(ctx, "bin")
	require.NoError(t, err)
	assert.Equal(t, binary, value)
}

func TestRedisStoreIncrWindow(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.IncrWindow(ctx, "window", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count.Count)
		assert.Greater(t, count.Remaining, time.Duration(0))
		assert.LessOrEqual(t, count.Remaining, time.Minute)
	}
}

func TestRedisStoreIncrWindowExpiry(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	count, err := store.IncrWindow(ctx, "window", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.Count)

	count, err = store.IncrWindow(ctx, "window", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count.Count)

	mr.FastForward(2 * time.Minute)

	count, err = store.IncrWindow(ctx, "window", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.Count, "window should restart after expiry")
}

func TestRedisStorePing(t *testing.T) {
	mr, store := setupRedisStore(t)

	require.NoError(t, store.Ping(context.Background()))

	mr.Close()

	assert.ErrorIs(t, store.Ping(context.Background()), types.ErrBackendUnavailable)
}

func TestRedisStoreFromHostPort(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	store, err := NewRedisFromHostPort(&types.BackendConfig{
		Host: mr.Host(),
		Port: port,
	})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))
	assert.True(t, store.Distributed())
	assert.Equal(t, "redis", store.Name())
}

func TestRedisStoreInvalidURL(t *testing.T) {
	_, err := NewRedisFromURL("not-a-url", nil)
	assert.Error(t, err)
}

func TestRedisStoreNoHostConfigured(t *testing.T) {
	_, err := NewRedisFromHostPort(&types.BackendConfig{})
	assert.ErrorIs(t, err, types.ErrNoBackendConfigured)
}
