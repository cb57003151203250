package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/types"
	"github.com/saiset-co/sai-shield/utils"
)

// GetAs reads and decodes a JSON entry. A decode failure counts as a miss
// and drops the entry, same as an envelope-corrupt read, so the next write
// repopulates it.
func GetAs[T any](ctx context.Context, c *Client, key string, ns types.Namespace, target *T) bool {
	data, ok := c.Get(ctx, key, ns)
	if !ok {
		return false
	}

	if err := utils.Unmarshal(data, target); err != nil {
		c.logger.Warn("Cache entry failed to decode, dropping",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		c.Delete(ctx, key, ns)
		return false
	}

	return true
}

func Put[T any](ctx context.Context, c *Client, key string, ns types.Namespace, value *T) {
	data, err := utils.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache value failed to encode",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		return
	}

	c.Set(ctx, key, data, ns)
}

func PutTTL[T any](ctx context.Context, c *Client, key string, ns types.Namespace, value *T, ttl time.Duration) {
	data, err := utils.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache value failed to encode",
			zap.String("namespace", string(ns)),
			zap.Error(err))
		return
	}

	c.SetTTL(ctx, key, data, ns, ttl)
}
