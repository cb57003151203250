package cron

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/types"
)

const resetThreshold = 3

// KeepWarm pings the resolved backend on a schedule so idle connections stay
// open and a dead backend is noticed before user traffic hits it. After
// resetThreshold consecutive failures the provider is reset, forcing the
// next acquire to re-resolve candidates.
type KeepWarm struct {
	provider   types.BackendProvider
	logger     types.Logger
	metrics    types.MetricsManager
	maxBackoff time.Duration
	failures   atomic.Int64
}

func NewKeepWarm(provider types.BackendProvider, logger types.Logger, metrics types.MetricsManager, config *types.WarmupConfig) *KeepWarm {
	maxBackoff := 5 * time.Minute
	if config != nil && config.MaxBackoff > 0 {
		maxBackoff = config.MaxBackoff
	}

	return &KeepWarm{
		provider:   provider,
		logger:     logger,
		metrics:    metrics,
		maxBackoff: maxBackoff,
	}
}

// Run executes one keep-warm cycle. Failed pings retry with jittered
// exponential backoff inside the cycle before counting as a failure.
func (k *KeepWarm) Run(ctx context.Context) {
	backend := k.provider.Acquire(ctx)

	err := k.pingWithBackoff(ctx, backend)
	if err == nil {
		k.failures.Store(0)
		k.count("success")
		return
	}

	failures := k.failures.Add(1)
	k.count("failure")

	k.logger.Warn("Keep-warm ping failed",
		zap.String("backend", backend.Name()),
		zap.Int64("consecutive_failures", failures),
		zap.Error(err))

	if failures >= resetThreshold {
		k.logger.Warn("Backend unresponsive, forcing re-resolution",
			zap.String("backend", backend.Name()))
		k.provider.Reset()
		k.failures.Store(0)
		k.count("reset")
	}
}

func (k *KeepWarm) pingWithBackoff(ctx context.Context, backend types.Backend) error {
	backoff := time.Second

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = backend.Ping(ctx); err == nil {
			return nil
		}

		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff)/2+1))
		if jittered > k.maxBackoff {
			jittered = k.maxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > k.maxBackoff {
			backoff = k.maxBackoff
		}
	}

	return err
}

func (k *KeepWarm) count(outcome string) {
	if k.metrics == nil {
		return
	}

	k.metrics.Counter("keep_warm_cycles_total", map[string]string{
		"outcome": outcome,
	}).Inc()
}
