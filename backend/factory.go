package backend

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-shield/types"
)

type candidate struct {
	name  string
	build func() (types.Backend, error)
}

// Factory resolves the process-wide backend. Candidates are probed in a
// fixed priority order; the first one that passes a write-read-delete probe
// wins and is memoized until Reset. Concurrent first calls share a single
// resolution through singleflight.
type Factory struct {
	logger       types.Logger
	metrics      types.MetricsManager
	config       *types.BackendConfig
	current      atomic.Pointer[backendHolder]
	group        singleflight.Group
	warnOnce     sync.Once
	probeTimeout time.Duration
	mu           sync.Mutex
}

type backendHolder struct {
	backend types.Backend
}

func NewFactory(logger types.Logger, metrics types.MetricsManager, config *types.BackendConfig) *Factory {
	probeTimeout := 3 * time.Second
	if config != nil && config.ProbeTimeout > 0 {
		probeTimeout = config.ProbeTimeout
	}

	return &Factory{
		logger:       logger,
		metrics:      metrics,
		config:       config,
		probeTimeout: probeTimeout,
	}
}

// Acquire returns the resolved backend, resolving on first use. It never
// returns nil: when every distributed candidate fails the probe, the
// in-memory fallback is returned.
func (f *Factory) Acquire(ctx context.Context) types.Backend {
	if holder := f.current.Load(); holder != nil {
		return holder.backend
	}

	result, _, _ := f.group.Do("resolve", func() (interface{}, error) {
		if holder := f.current.Load(); holder != nil {
			return holder.backend, nil
		}

		resolved := f.resolve(ctx)
		f.current.Store(&backendHolder{backend: resolved})
		return resolved, nil
	})

	return result.(types.Backend)
}

// Reset drops the memoized backend so the next Acquire re-runs resolution.
// The old backend is closed asynchronously once dropped.
func (f *Factory) Reset() {
	f.mu.Lock()
	holder := f.current.Swap(nil)
	f.mu.Unlock()

	if holder != nil && holder.backend != nil {
		old := holder.backend
		go func() {
			if err := old.Close(); err != nil {
				f.logger.Warn("Failed to close previous backend",
					zap.String("backend", old.Name()),
					zap.Error(err))
			}
		}()
	}
}

func (f *Factory) resolve(ctx context.Context) types.Backend {
	for _, cand := range f.candidates() {
		backend, err := cand.build()
		if err != nil {
			f.logger.Warn("Backend candidate rejected",
				zap.String("candidate", cand.name),
				zap.Error(err))
			f.countResolution(cand.name, "build_failed")
			continue
		}

		if err := f.probe(ctx, backend); err != nil {
			f.logger.Warn("Backend candidate failed probe",
				zap.String("candidate", cand.name),
				zap.Error(err))
			f.countResolution(cand.name, "probe_failed")
			if closeErr := backend.Close(); closeErr != nil {
				f.logger.Debug("Failed to close rejected candidate",
					zap.String("candidate", cand.name),
					zap.Error(closeErr))
			}
			continue
		}

		f.logger.Info("Backend resolved",
			zap.String("backend", backend.Name()),
			zap.Bool("distributed", backend.Distributed()))
		f.countResolution(cand.name, "resolved")

		return backend
	}

	f.warnOnce.Do(func() {
		f.logger.Warn("No distributed backend available, using in-memory fallback; rate limits and cache are per-process")
	})
	f.countResolution("memory", "resolved")

	return NewFallbackStore(f.logger, f.config)
}

func (f *Factory) candidates() []candidate {
	cfg := f.config
	if cfg == nil {
		return nil
	}

	var candidates []candidate

	if cfg.RestURL != "" && cfg.RestToken != "" {
		candidates = append(candidates, candidate{
			name: "rest-kv",
			build: func() (types.Backend, error) {
				return NewRestKVStore(cfg)
			},
		})
	}

	if cfg.URL != "" {
		candidates = append(candidates, candidate{
			name: "redis-url",
			build: func() (types.Backend, error) {
				return NewRedisFromURL(cfg.URL, cfg)
			},
		})
	}

	if cfg.Host != "" {
		candidates = append(candidates, candidate{
			name: "redis",
			build: func() (types.Backend, error) {
				return NewRedisFromHostPort(cfg)
			},
		})
	}

	return candidates
}

// probe writes a unique key, reads it back expecting an exact match, then
// deletes it. A backend that answers Ping but garbles round-trips is still
// rejected.
func (f *Factory) probe(ctx context.Context, backend types.Backend) error {
	probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	key := "probe:" + uuid.NewString()
	value := []byte(uuid.NewString())

	if err := backend.Set(probeCtx, key, value, time.Minute); err != nil {
		return types.Errorf(types.ErrBackendProbeFailed, "set: %v", err)
	}

	read, err := backend.Get(probeCtx, key)
	if err != nil {
		return types.Errorf(types.ErrBackendProbeFailed, "get: %v", err)
	}

	if !bytes.Equal(read, value) {
		return types.ErrBackendProbeMismatch
	}

	if err := backend.Delete(probeCtx, key); err != nil {
		f.logger.Debug("Failed to delete probe key",
			zap.String("backend", backend.Name()),
			zap.Error(err))
	}

	return nil
}

func (f *Factory) countResolution(candidate, outcome string) {
	if f.metrics == nil {
		return
	}

	f.metrics.Counter("backend_resolutions_total", map[string]string{
		"candidate": candidate,
		"outcome":   outcome,
	}).Inc()
}

// HealthChecker probes the resolved backend for the health manager. The
// memory fallback reports degraded rather than unhealthy: the service still
// works, just without cross-process state.
func (f *Factory) HealthChecker() types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		backend := f.Acquire(ctx)

		if err := backend.Ping(ctx); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
				Details: map[string]interface{}{"backend": backend.Name()},
			}
		}

		status := types.StatusHealthy
		if !backend.Distributed() {
			status = types.StatusDegraded
		}

		return types.HealthCheck{
			Status: status,
			Details: map[string]interface{}{
				"backend":     backend.Name(),
				"distributed": backend.Distributed(),
			},
		}
	}
}
