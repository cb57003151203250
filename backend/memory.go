package backend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/types"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	createdAt time.Time
}

type windowEntry struct {
	count   int64
	resetAt time.Time
}

// FallbackStore is the in-memory backend used when no distributed candidate
// can be reached. Expiry is lazy on read plus a background sweep; eviction is
// oldest-first once maxEntries is exceeded.
type FallbackStore struct {
	logger        types.Logger
	entries       map[string]memoryEntry
	windows       map[string]windowEntry
	maxEntries    int
	sweepInterval time.Duration
	mu            sync.RWMutex
	done          chan struct{}
	closeOnce     sync.Once
}

func NewFallbackStore(logger types.Logger, config *types.BackendConfig) *FallbackStore {
	maxEntries := 100000
	sweepInterval := time.Minute
	if config != nil {
		if config.MaxEntries > 0 {
			maxEntries = config.MaxEntries
		}
		if config.SweepInterval > 0 {
			sweepInterval = config.SweepInterval
		}
	}

	s := &FallbackStore{
		logger:        logger,
		entries:       make(map[string]memoryEntry),
		windows:       make(map[string]windowEntry),
		maxEntries:    maxEntries,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

func (s *FallbackStore) Name() string {
	return "memory"
}

func (s *FallbackStore) Distributed() bool {
	return false
}

func (s *FallbackStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, types.ErrCacheMiss
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock: a Set may have replaced the entry
		// between the read and here, and that fresh write must survive.
		if current, ok := s.entries[key]; ok &&
			!current.expiresAt.IsZero() && time.Now().After(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, types.ErrCacheMiss
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)

	return value, nil
}

func (s *FallbackStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{
		value:     stored,
		createdAt: time.Now(),
	}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}

	s.entries[key] = entry

	return nil
}

func (s *FallbackStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

func (s *FallbackStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err != nil {
		if types.IsError(err, types.ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FallbackStore) IncrWindow(_ context.Context, key string, window time.Duration) (types.WindowCount, error) {
	if key == "" {
		return types.WindowCount{}, types.ErrCacheKeyEmpty
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.windows[key]
	if !exists || now.After(entry.resetAt) {
		entry = windowEntry{count: 0, resetAt: now.Add(window)}
	}

	entry.count++
	s.windows[key] = entry

	return types.WindowCount{
		Count:     entry.count,
		Remaining: entry.resetAt.Sub(now),
	}, nil
}

func (s *FallbackStore) Ping(_ context.Context) error {
	select {
	case <-s.done:
		return types.ErrBackendClosed
	default:
		return nil
	}
}

func (s *FallbackStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.entries = make(map[string]memoryEntry)
		s.windows = make(map[string]windowEntry)
		s.mu.Unlock()
	})

	return nil
}

// Len reports the live entry count. Used by tests and stats.
func (s *FallbackStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *FallbackStore) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time

	for key, entry := range s.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(s.entries, oldestKey)
		if s.logger != nil {
			s.logger.Debug("Fallback store evicted entry", zap.String("key", oldestKey))
		}
	}
}

func (s *FallbackStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *FallbackStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}

	for key, entry := range s.windows {
		if now.After(entry.resetAt) {
			delete(s.windows, key)
		}
	}
}
