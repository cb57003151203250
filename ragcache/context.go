package ragcache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/types"
	"github.com/saiset-co/sai-shield/utils"
)

type ContextChunk struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

type ContextResult struct {
	SessionID   string         `json:"session_id"`
	Query       string         `json:"query"`
	Context     string         `json:"context"`
	Chunks      []ContextChunk `json:"chunks,omitempty"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	FromCache   bool           `json:"from_cache"`
}

// ContextCache stores assembled retrieval contexts per (session, query).
// Results coming out of the cache carry FromCache=true so callers can tell a
// replayed context from a fresh retrieval.
type ContextCache struct {
	client *cache.Client
	logger types.Logger
	stats  stats
}

func NewContextCache(client *cache.Client, logger types.Logger) *ContextCache {
	return &ContextCache{client: client, logger: logger}
}

func (c *ContextCache) Get(ctx context.Context, sessionID, query string) (*ContextResult, bool) {
	var result ContextResult
	if !cache.GetAs(ctx, c.client, contextKey(sessionID, query), types.NamespaceContext, &result) {
		c.stats.miss()
		return nil, false
	}

	result.FromCache = true
	c.stats.hit()
	return &result, true
}

func (c *ContextCache) Put(ctx context.Context, result *ContextResult) {
	if result == nil || result.Query == "" {
		return
	}

	if result.RetrievedAt.IsZero() {
		result.RetrievedAt = time.Now()
	}

	// Stored entries are always marked fresh; FromCache is set on the way
	// out, not persisted.
	stored := *result
	stored.FromCache = false

	cache.Put(ctx, c.client, contextKey(stored.SessionID, stored.Query), types.NamespaceContext, &stored)
	c.stats.write()
}

func (c *ContextCache) Invalidate(ctx context.Context, sessionID, query string) {
	c.client.Delete(ctx, contextKey(sessionID, query), types.NamespaceContext)
}

func (c *ContextCache) Stats() Stats {
	return c.stats.snapshot()
}

func contextKey(sessionID, query string) string {
	return utils.HashKey(sessionID, "\x00", query)
}
