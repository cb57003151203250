package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/types"
)

const keyPrefix = "rate-limit"

// Limiter enforces fixed-window budgets per (class, client) on top of the
// resolved backend. When the backend cannot count, the limiter falls back to
// a per-process window instead of blocking traffic.
type Limiter struct {
	provider types.BackendProvider
	logger   types.Logger
	metrics  types.MetricsManager
	local    *localCounter
	enabled  bool
}

func NewLimiter(provider types.BackendProvider, logger types.Logger, metrics types.MetricsManager, config *types.RateLimitConfig) *Limiter {
	enabled := true
	if config != nil {
		enabled = config.Enabled
	}

	return &Limiter{
		provider: provider,
		logger:   logger,
		metrics:  metrics,
		local:    newLocalCounter(),
		enabled:  enabled,
	}
}

// Allow charges one request against the client's window and returns the
// verdict. Rejected requests still consume budget: the increment happened
// before the limit comparison, and hammering while blocked keeps the counter
// high. An empty client ID is allowed through since there is nothing to
// charge it to.
func (l *Limiter) Allow(ctx context.Context, clientID string, class types.RateClass) types.Decision {
	if !l.enabled {
		return types.Decision{Allowed: true, Limit: class.Limit, Remaining: class.Limit}
	}

	if clientID == "" {
		return types.Decision{Allowed: true, Limit: class.Limit, Remaining: class.Limit}
	}

	if !class.Valid() {
		l.logger.Warn("Rate class invalid, allowing request",
			zap.String("class", class.Name))
		return types.Decision{Allowed: true, Limit: class.Limit, Remaining: class.Limit}
	}

	key := keyPrefix + ":" + class.Name + ":" + clientID

	count := l.incr(ctx, key, class.Window)

	decision := l.decide(class, count)
	l.record(class, decision)

	if !decision.Allowed {
		l.logger.Debug("Rate limit exceeded",
			zap.String("class", class.Name),
			zap.String("client", clientID),
			zap.Int64("count", count.Count),
			zap.Int("limit", class.Limit))
	}

	return decision
}

func (l *Limiter) incr(ctx context.Context, key string, window time.Duration) types.WindowCount {
	backend := l.provider.Acquire(ctx)

	count, err := backend.IncrWindow(ctx, key, window)
	if err != nil {
		l.logger.Warn("Backend window increment failed, using local fallback",
			zap.String("backend", backend.Name()),
			zap.Error(err))
		if l.metrics != nil {
			l.metrics.Counter("rate_limit_fallbacks_total", nil).Inc()
		}
		return l.local.incr(key, window)
	}

	return count
}

func (l *Limiter) decide(class types.RateClass, count types.WindowCount) types.Decision {
	remaining := class.Limit - int(count.Count)
	if remaining < 0 {
		remaining = 0
	}

	decision := types.Decision{
		Allowed:   count.Count <= int64(class.Limit),
		Limit:     class.Limit,
		Remaining: remaining,
	}

	if !decision.Allowed {
		retryAfter := count.Remaining
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		decision.RetryAfter = retryAfter
		decision.ResetAt = time.Now().Add(count.Remaining)
	}

	return decision
}

func (l *Limiter) record(class types.RateClass, decision types.Decision) {
	if l.metrics == nil {
		return
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "rejected"
	}

	l.metrics.Counter("rate_limit_decisions_total", map[string]string{
		"class":   class.Name,
		"outcome": outcome,
	}).Inc()
}
