package ragcache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/types"
	"github.com/saiset-co/sai-shield/utils"
)

type EmbeddingEntry struct {
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingCache memoizes embedding vectors per (model, text). Text is
// hashed into the key so arbitrarily long inputs produce fixed-size keys.
type EmbeddingCache struct {
	client *cache.Client
	logger types.Logger
	stats  stats
}

func NewEmbeddingCache(client *cache.Client, logger types.Logger) *EmbeddingCache {
	return &EmbeddingCache{client: client, logger: logger}
}

func (e *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	var entry EmbeddingEntry
	if !cache.GetAs(ctx, e.client, embeddingKey(model, text), types.NamespaceEmbeddings, &entry) {
		e.stats.miss()
		return nil, false
	}

	e.stats.hit()
	return entry.Vector, true
}

func (e *EmbeddingCache) Put(ctx context.Context, model, text string, vector []float32) {
	entry := EmbeddingEntry{
		Text:      text,
		Vector:    vector,
		Model:     model,
		CreatedAt: time.Now(),
	}

	cache.Put(ctx, e.client, embeddingKey(model, text), types.NamespaceEmbeddings, &entry)
	e.stats.write()
}

func (e *EmbeddingCache) Stats() Stats {
	return e.stats.snapshot()
}

func embeddingKey(model, text string) string {
	return model + ":" + utils.HashKey(text)
}
