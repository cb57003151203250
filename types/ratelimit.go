package types

import (
	"context"
	"time"
)

// RateClass names a request category with its own budget. Classes are
// configuration data, not code: adding one is a config change.
type RateClass struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (c RateClass) Valid() bool {
	return c.Name != "" && c.Limit > 0 && c.Window > 0
}

// Decision is the verdict for a single request. Remaining is how many
// requests the client has left in the current window; RetryAfter and ResetAt
// are only meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RateLimiter enforces fixed-window budgets per (class, client). Limiter
// failures never block traffic: on backend errors the decision falls back to
// a local per-process window.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string, class RateClass) Decision
}
