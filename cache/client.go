package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/types"
)

var durationBuckets = []float64{0.0001, 0.001, 0.01, 0.1, 1.0}

// Client is the unified cache surface over the resolved backend. Keys are
// prefixed and namespaced, TTLs are clamped to the namespace policy, and
// backend errors are swallowed: a failed read is a miss, a failed write is a
// logged no-op.
type Client struct {
	provider          types.BackendProvider
	logger            types.Logger
	metrics           types.MetricsManager
	prefix            string
	compressThreshold int
	overrides         map[types.Namespace]time.Duration
}

func NewClient(provider types.BackendProvider, logger types.Logger, metrics types.MetricsManager, config *types.CacheConfig) *Client {
	prefix := "sai-shield"
	threshold := 1024
	overrides := make(map[types.Namespace]time.Duration)

	if config != nil {
		if config.KeyPrefix != "" {
			prefix = config.KeyPrefix
		}
		if config.CompressThreshold > 0 {
			threshold = config.CompressThreshold
		}
		for name, seconds := range config.TTL {
			ns := types.Namespace(name)
			if ns.Valid() && seconds > 0 {
				overrides[ns] = time.Duration(seconds) * time.Second
			}
		}
	}

	return &Client{
		provider:          provider,
		logger:            logger,
		metrics:           metrics,
		prefix:            prefix,
		compressThreshold: threshold,
		overrides:         overrides,
	}
}

func (c *Client) Get(ctx context.Context, key string, ns types.Namespace) ([]byte, bool) {
	start := time.Now()

	if !c.validate(key, ns, "get") {
		return nil, false
	}

	backend := c.provider.Acquire(ctx)

	stored, err := backend.Get(ctx, c.fullKey(ns, key))
	if err != nil {
		if types.IsError(err, types.ErrCacheMiss) {
			c.record("get", ns, "miss", start)
			return nil, false
		}

		c.logger.Warn("Cache get failed",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		c.record("get", ns, "error", start)
		return nil, false
	}

	value, err := decode(stored)
	if err != nil {
		c.logger.Warn("Cache entry corrupted, dropping",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		_ = backend.Delete(ctx, c.fullKey(ns, key))
		c.record("get", ns, "error", start)
		return nil, false
	}

	c.record("get", ns, "hit", start)
	return value, true
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ns types.Namespace) {
	c.SetTTL(ctx, key, value, ns, c.policyTTL(ns))
}

// SetTTL stores with an explicit lifetime, clamped to the namespace policy.
// A non-positive ttl deletes any existing entry: the caller asked for an
// already-expired value.
func (c *Client) SetTTL(ctx context.Context, key string, value []byte, ns types.Namespace, ttl time.Duration) {
	start := time.Now()

	if !c.validate(key, ns, "set") {
		return
	}

	backend := c.provider.Acquire(ctx)

	if ttl <= 0 {
		_ = backend.Delete(ctx, c.fullKey(ns, key))
		c.record("set", ns, "expired", start)
		return
	}

	if max := c.policyTTL(ns); ttl > max {
		ttl = max
	}

	encoded, err := encode(value, c.compressThreshold)
	if err != nil {
		c.logger.Warn("Cache encode failed",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		c.record("set", ns, "error", start)
		return
	}

	if err := backend.Set(ctx, c.fullKey(ns, key), encoded, ttl); err != nil {
		c.logger.Warn("Cache set failed",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		c.record("set", ns, "error", start)
		return
	}

	c.record("set", ns, "ok", start)
}

func (c *Client) Exists(ctx context.Context, key string, ns types.Namespace) bool {
	start := time.Now()

	if !c.validate(key, ns, "exists") {
		return false
	}

	exists, err := c.provider.Acquire(ctx).Exists(ctx, c.fullKey(ns, key))
	if err != nil {
		c.logger.Warn("Cache exists failed",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		c.record("exists", ns, "error", start)
		return false
	}

	c.record("exists", ns, "ok", start)
	return exists
}

func (c *Client) Delete(ctx context.Context, key string, ns types.Namespace) {
	start := time.Now()

	if !c.validate(key, ns, "delete") {
		return
	}

	if err := c.provider.Acquire(ctx).Delete(ctx, c.fullKey(ns, key)); err != nil {
		c.logger.Warn("Cache delete failed",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		c.record("delete", ns, "error", start)
		return
	}

	c.record("delete", ns, "ok", start)
}

func (c *Client) fullKey(ns types.Namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, ns, key)
}

func (c *Client) policyTTL(ns types.Namespace) time.Duration {
	if ttl, ok := c.overrides[ns]; ok {
		return ttl
	}
	return ns.DefaultTTL()
}

func (c *Client) validate(key string, ns types.Namespace, op string) bool {
	if key == "" {
		c.logger.Warn("Cache operation with empty key", zap.String("operation", op))
		return false
	}
	if !ns.Valid() {
		c.logger.Warn("Cache operation with unknown namespace",
			zap.String("operation", op),
			zap.String("namespace", string(ns)))
		return false
	}
	return true
}

func (c *Client) record(operation string, ns types.Namespace, result string, start time.Time) {
	if c.metrics == nil {
		return
	}

	labels := map[string]string{
		"operation": operation,
		"namespace": string(ns),
		"result":    result,
	}

	c.metrics.Counter("cache_operations_total", labels).Inc()
	c.metrics.Histogram("cache_operation_duration_seconds", durationBuckets, map[string]string{
		"operation": operation,
	}).ObserveDuration(start)
}
