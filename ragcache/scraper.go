package ragcache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/types"
	"github.com/saiset-co/sai-shield/utils"
)

type ScrapedPage struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ScraperCache holds fetched page content keyed by URL hash so repeated
// ingestion runs skip the network.
type ScraperCache struct {
	client *cache.Client
	logger types.Logger
	stats  stats
}

func NewScraperCache(client *cache.Client, logger types.Logger) *ScraperCache {
	return &ScraperCache{client: client, logger: logger}
}

func (s *ScraperCache) Get(ctx context.Context, url string) (*ScrapedPage, bool) {
	var page ScrapedPage
	if !cache.GetAs(ctx, s.client, utils.HashKey(url), types.NamespaceScraper, &page) {
		s.stats.miss()
		return nil, false
	}

	s.stats.hit()
	return &page, true
}

func (s *ScraperCache) Put(ctx context.Context, page *ScrapedPage) {
	if page == nil || page.URL == "" {
		return
	}

	if page.FetchedAt.IsZero() {
		page.FetchedAt = time.Now()
	}

	cache.Put(ctx, s.client, utils.HashKey(page.URL), types.NamespaceScraper, page)
	s.stats.write()
}

func (s *ScraperCache) Invalidate(ctx context.Context, url string) {
	s.client.Delete(ctx, utils.HashKey(url), types.NamespaceScraper)
}

func (s *ScraperCache) Stats() Stats {
	return s.stats.snapshot()
}
