// Package ragcache provides typed cache facades for the retrieval pipeline:
// embeddings, scraped pages, assembled retrieval contexts, and chat sessions.
// Each facade owns its key scheme and namespace; all of them tolerate a dead
// backend by behaving as a cache that never hits.
package ragcache

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/types"
)

type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Writes uint64 `json:"writes"`
}

type stats struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
}

func (s *stats) hit()   { s.hits.Add(1) }
func (s *stats) miss()  { s.misses.Add(1) }
func (s *stats) write() { s.writes.Add(1) }

func (s *stats) snapshot() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Writes: s.writes.Load(),
	}
}

// Caches bundles all retrieval-pipeline facades over one cache client.
type Caches struct {
	Embeddings *EmbeddingCache
	Scraper    *ScraperCache
	Context    *ContextCache
	Sessions   *SessionCache
}

func NewCaches(client *cache.Client, logger types.Logger) *Caches {
	return &Caches{
		Embeddings: NewEmbeddingCache(client, logger),
		Scraper:    NewScraperCache(client, logger),
		Context:    NewContextCache(client, logger),
		Sessions:   NewSessionCache(client, logger),
	}
}

// ReportStats logs a hit/miss summary per facade. Wired as a cron job so the
// numbers land in the logs on a schedule.
func (c *Caches) ReportStats(_ context.Context, logger types.Logger) {
	report := map[string]Stats{
		"embeddings": c.Embeddings.Stats(),
		"scraper":    c.Scraper.Stats(),
		"context":    c.Context.Stats(),
		"sessions":   c.Sessions.Stats(),
	}

	for name, s := range report {
		total := s.Hits + s.Misses
		ratio := 0.0
		if total > 0 {
			ratio = float64(s.Hits) / float64(total)
		}

		logger.Info("Cache facade stats",
			zap.String("facade", name),
			zap.Uint64("hits", s.Hits),
			zap.Uint64("misses", s.Misses),
			zap.Uint64("writes", s.Writes),
			zap.Float64("hit_ratio", ratio))
	}
}
