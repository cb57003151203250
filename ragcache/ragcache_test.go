package ragcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-shield/backend"
	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/logger"
	"github.com/saiset-co/sai-shield/types"
)

func setupCaches(t *testing.T) (*miniredis.Miniredis, *Caches) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	factory := backend.NewFactory(logger.NewNop(), nil, &types.BackendConfig{
		URL: "redis://" + mr.Addr(),
	})
	t.Cleanup(factory.Reset)

	client := cache.NewClient(factory, logger.NewNop(), nil, nil)

	return mr, NewCaches(client, logger.NewNop())
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	vector := []float32{0.1, -0.25, 0.5, 0.999, -1}
	caches.Embeddings.Put(ctx, "text-embedding-3-small", "what is vector search", vector)

	got, ok := caches.Embeddings.Get(ctx, "text-embedding-3-small", "what is vector search")
	require.True(t, ok)
	assert.Equal(t, vector, got)
}

func TestEmbeddingCacheKeyedByModelAndText(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	caches.Embeddings.Put(ctx, "model-a", "query", []float32{1})

	_, ok := caches.Embeddings.Get(ctx, "model-b", "query")
	assert.False(t, ok, "different model must not share vectors")

	_, ok = caches.Embeddings.Get(ctx, "model-a", "other query")
	assert.False(t, ok)
}

func TestEmbeddingCacheStats(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	caches.Embeddings.Put(ctx, "m", "text", []float32{1})
	caches.Embeddings.Get(ctx, "m", "text")
	caches.Embeddings.Get(ctx, "m", "missing")

	stats := caches.Embeddings.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Writes)
}

func TestScraperCacheRoundTrip(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	page := &ScrapedPage{
		URL:     "https://example.com/docs/install",
		Title:   "Installation",
		Content: "Run the installer.",
	}
	caches.Scraper.Put(ctx, page)

	got, ok := caches.Scraper.Get(ctx, "https://example.com/docs/install")
	require.True(t, ok)
	assert.Equal(t, page.Title, got.Title)
	assert.Equal(t, page.Content, got.Content)
	assert.False(t, got.FetchedAt.IsZero())
}

func TestScraperCacheInvalidate(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	caches.Scraper.Put(ctx, &ScrapedPage{URL: "https://example.com", Content: "x"})
	caches.Scraper.Invalidate(ctx, "https://example.com")

	_, ok := caches.Scraper.Get(ctx, "https://example.com")
	assert.False(t, ok)
}

func TestContextCacheMarksReplayedResults(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	result := &ContextResult{
		SessionID: "session-1",
		Query:     "how do I deploy",
		Context:   "assembled context text",
		Chunks: []ContextChunk{
			{DocumentID: "doc-1", Content: "deploy with the cli", Score: 0.87},
		},
	}
	caches.Context.Put(ctx, result)

	got, ok := caches.Context.Get(ctx, "session-1", "how do I deploy")
	require.True(t, ok)
	assert.True(t, got.FromCache, "replayed contexts must be marked")
	assert.Equal(t, result.Context, got.Context)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, "doc-1", got.Chunks[0].DocumentID)
}

func TestContextCacheScopedToSession(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	caches.Context.Put(ctx, &ContextResult{SessionID: "s1", Query: "q", Context: "ctx"})

	_, ok := caches.Context.Get(ctx, "s2", "q")
	assert.False(t, ok, "another session must not see the cached context")
}

func TestSessionCacheTouch(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	session := &Session{
		ID:         "session-1",
		UserID:     "user-1",
		LastSeenAt: time.Now().Add(-time.Hour),
	}
	caches.Sessions.Put(ctx, session)

	require.True(t, caches.Sessions.Touch(ctx, "session-1"))

	got, ok := caches.Sessions.Get(ctx, "session-1")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), got.LastSeenAt, time.Minute)

	assert.False(t, caches.Sessions.Touch(ctx, "absent"))
}

func TestSessionCacheDelete(t *testing.T) {
	_, caches := setupCaches(t)
	ctx := context.Background()

	caches.Sessions.Put(ctx, &Session{ID: "gone", UserID: "u"})
	caches.Sessions.Delete(ctx, "gone")

	_, ok := caches.Sessions.Get(ctx, "gone")
	assert.False(t, ok)
}

func TestCachesSurviveDeadBackend(t *testing.T) {
	mr, caches := setupCaches(t)
	ctx := context.Background()

	caches.Embeddings.Put(ctx, "m", "text", []float32{1})
	mr.Close()

	// Everything degrades to a cache that never hits.
	caches.Embeddings.Put(ctx, "m", "more", []float32{2})

	_, ok := caches.Embeddings.Get(ctx, "m", "text")
	assert.False(t, ok)

	stats := caches.Embeddings.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestReportStatsDoesNotPanic(t *testing.T) {
	_, caches := setupCaches(t)

	caches.ReportStats(context.Background(), logger.NewNop())
}
