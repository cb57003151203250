package types

import (
	"context"
	"time"
)

// Backend is a concrete storage implementation behind the cache and the rate
// limiter: either the distributed key-value service or the in-memory
// fallback. Get returns ErrCacheMiss for absent keys; Set always overwrites.
type Backend interface {
	Name() string
	// Distributed reports whether the backend is shared across processes.
	// The in-memory fallback returns false: it is a single-process degraded
	// substitute and must never be mistaken for a multi-instance equivalent.
	Distributed() bool
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// IncrWindow atomically increments the counter at key; the first
	// increment of a window arms the key's expiry to the window length.
	// The increment and the conditional expiry-set are indivisible.
	IncrWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error)
	Ping(ctx context.Context) error
	Close() error
}

type WindowCount struct {
	Count     int64
	Remaining time.Duration
}

// BackendProvider hands out the process-lifetime backend singleton.
// Acquire never fails: exhausting every configured candidate resolves to the
// in-memory fallback. Reset clears the singleton so the next Acquire
// re-resolves; it exists for diagnostics and tests, not steady-state traffic.
type BackendProvider interface {
	Acquire(ctx context.Context) Backend
	Reset()
}
