package cache

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-shield/backend"
	"github.com/saiset-co/sai-shield/logger"
	"github.com/saiset-co/sai-shield/types"
)

func setupClient(t *testing.T, config *types.CacheConfig) (*miniredis.Miniredis, *Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	factory := backend.NewFactory(logger.NewNop(), nil, &types.BackendConfig{
		URL: "redis://" + mr.Addr(),
	})
	t.Cleanup(factory.Reset)

	return mr, NewClient(factory, logger.NewNop(), nil, config)
}

func TestClientRoundTrip(t *testing.T) {
	_, client := setupClient(t, nil)
	ctx := context.Background()

	client.Set(ctx, "key", []byte("value"), types.NamespaceShort)

	value, ok := client.Get(ctx, "key", types.NamespaceShort)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value)

	assert.True(t, client.Exists(ctx, "key", types.NamespaceShort))

	client.Delete(ctx, "key", types.NamespaceShort)

	_, ok = client.Get(ctx, "key", types.NamespaceShort)
	assert.False(t, ok)
}

func TestClientMiss(t *testing.T) {
	_, client := setupClient(t, nil)

	_, ok := client.Get(context.Background(), "absent", types.NamespaceShort)
	assert.False(t, ok)
}

func TestClientKeysAreNamespaced(t *testing.T) {
	mr, client := setupClient(t, &types.CacheConfig{KeyPrefix: "shield"})
	ctx := context.Background()

	client.Set(ctx, "key", []byte("v"), types.NamespaceEmbeddings)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "shield:embeddings:key", keys[0])
}

func TestClientNamespacesAreIsolated(t *testing.T) {
	_, client := setupClient(t, nil)
	ctx := context.Background()

	client.Set(ctx, "key", []byte("doc"), types.NamespaceDocument)
	client.Set(ctx, "key", []byte("scrape"), types.NamespaceScraper)

	docValue, ok := client.Get(ctx, "key", types.NamespaceDocument)
	require.True(t, ok)
	assert.Equal(t, []byte("doc"), docValue)

	scrapeValue, ok := client.Get(ctx, "key", types.NamespaceScraper)
	require.True(t, ok)
	assert.Equal(t, []byte("scrape"), scrapeValue)
}

func TestClientUnknownNamespaceRejected(t *testing.T) {
	mr, client := setupClient(t, nil)
	ctx := context.Background()

	client.Set(ctx, "key", []byte("v"), types.Namespace("bogus"))

	assert.Empty(t, mr.Keys())

	_, ok := client.Get(ctx, "key", types.Namespace("bogus"))
	assert.False(t, ok)
}

func TestClientEmptyKeyRejected(t *testing.T) {
	mr, client := setupClient(t, nil)

	client.Set(context.Background(), "", []byte("v"), types.NamespaceShort)
	assert.Empty(t, mr.Keys())
}

func TestClientNamespaceDefaultTTL(t *testing.T) {
	mr, client := setupClient(t, nil)
	ctx := context.Background()

	client.Set(ctx, "key", []byte("v"), types.NamespaceScraper)

	ttl := mr.TTL("sai-shield:scraper:key")
	assert.Equal(t, 12*time.Hour, ttl)
}

func TestClientTTLClampedToPolicy(t *testing.T) {
	mr, client := setupClient(t, nil)
	ctx := context.Background()

	// Requested lifetime exceeds the short namespace's one hour policy.
	client.SetTTL(ctx, "key", []byte("v"), types.NamespaceShort, 48*time.Hour)

	ttl := mr.TTL("sai-shield:short:key")
	assert.Equal(t, time.Hour, ttl)
}

func TestClientExplicitShorterTTLKept(t *testing.T) {
	mr, client := setupClient(t, nil)
	ctx := context.Background()

	client.SetTTL(ctx, "key", []byte("v"), types.NamespaceShort, time.Minute)

	ttl := mr.TTL("sai-shield:short:key")
	assert.Equal(t, time.Minute, ttl)
}

func TestClientZeroTTLDeletes(t *testing.T) {
	_, client := setupClient(t, nil)
	ctx := context.Background()

	client.Set(ctx, "key", []byte("v"), types.NamespaceShort)
	client.SetTTL(ctx, "key", []byte("new"), types.NamespaceShort, 0)

	_, ok := client.Get(ctx, "key", types.NamespaceShort)
	assert.False(t, ok, "zero ttl means the entry is already expired")
}

func TestClientTTLOverridesFromConfig(t *testing.T) {
	mr, client := setupClient(t, &types.CacheConfig{
		TTL: map[string]int{"short": 120},
	})
	ctx := context.Background()

	client.Set(ctx, "key", []byte("v"), types.NamespaceShort)

	ttl := mr.TTL("sai-shield:short:key")
	assert.Equal(t, 2*time.Minute, ttl)
}

func TestClientCompressionRoundTrip(t *testing.T) {
	mr, client := setupClient(t, &types.CacheConfig{CompressThreshold: 64})
	ctx := context.Background()

	// Highly repetitive payload, guaranteed to shrink.
	large := []byte(strings.Repeat("embedding vector data ", 200))

	client.Set(ctx, "big", large, types.NamespaceEmbeddings)

	stored, err := mr.Get("sai-shield:embeddings:big")
	require.NoError(t, err)
	assert.Less(t, len(stored), len(large), "payload should be stored compressed")

	value, ok := client.Get(ctx, "big", types.NamespaceEmbeddings)
	require.True(t, ok)
	assert.True(t, bytes.Equal(large, value))
}

func TestClientSmallValuesNotCompressed(t *testing.T) {
	mr, client := setupClient(t, &types.CacheConfig{CompressThreshold: 1024})
	ctx := context.Background()

	client.Set(ctx, "small", []byte("tiny"), types.NamespaceShort)

	stored, err := mr.Get("sai-shield:short:small")
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), stored[0], "envelope tag should mark raw encoding")

	value, ok := client.Get(ctx, "small", types.NamespaceShort)
	require.True(t, ok)
	assert.Equal(t, []byte("tiny"), value)
}

func TestClientCorruptedEntryIsMissAndDropped(t *testing.T) {
	mr, client := setupClient(t, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set("sai-shield:short:bad", string([]byte{0x77, 0x01, 0x02})))

	_, ok := client.Get(ctx, "bad", types.NamespaceShort)
	assert.False(t, ok)

	// The corrupted entry was dropped on read.
	assert.False(t, mr.Exists("sai-shield:short:bad"))
}

func TestClientSwallowsBackendFailure(t *testing.T) {
	mr, client := setupClient(t, nil)
	ctx := context.Background()

	client.Set(ctx, "key", []byte("v"), types.NamespaceShort)
	mr.Close()

	// Reads miss, writes are no-ops, nothing panics or errors out.
	_, ok := client.Get(ctx, "key", types.NamespaceShort)
	assert.False(t, ok)

	client.Set(ctx, "other", []byte("v"), types.NamespaceShort)
	client.Delete(ctx, "key", types.NamespaceShort)
	assert.False(t, client.Exists(ctx, "key", types.NamespaceShort))
}

func TestTypedHelpers(t *testing.T) {
	_, client := setupClient(t, nil)
	ctx := context.Background()

	type payload struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	in := payload{Name: "doc-1", Score: 0.92}
	Put(ctx, client, "typed", types.NamespaceDocument, &in)

	var out payload
	require.True(t, GetAs(ctx, client, "typed", types.NamespaceDocument, &out))
	assert.Equal(t, in, out)

	var absent payload
	assert.False(t, GetAs(ctx, client, "missing", types.NamespaceDocument, &absent))
}

func TestTypedGetDropsUndecodableEntry(t *testing.T) {
	_, client := setupClient(t, nil)
	ctx := context.Background()

	// Valid envelope, but the payload is not JSON.
	client.Set(ctx, "broken", []byte("not json"), types.NamespaceDocument)

	var out struct {
		Name string `json:"name"`
	}
	assert.False(t, GetAs(ctx, client, "broken", types.NamespaceDocument, &out))

	// The entry is dropped, not left to poison every later read.
	assert.False(t, client.Exists(ctx, "broken", types.NamespaceDocument))
}
