package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saiset-co/sai-shield/types"
)

// incrWindowScript increments a window counter and arms its expiry on the
// first hit of the window. Runs server-side so the increment and the
// conditional expire cannot interleave with another client.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

type RedisStore struct {
	client *redis.Client
	name   string
}

// NewRedisFromURL builds a backend from a redis:// or rediss:// URL.
func NewRedisFromURL(url string, config *types.BackendConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, types.WrapError(err, "failed to parse redis url")
	}

	applyPoolOptions(opts, config)

	return &RedisStore{
		client: redis.NewClient(opts),
		name:   "redis-url",
	}, nil
}

// NewRedisFromHostPort builds a backend from discrete host/port credentials.
func NewRedisFromHostPort(config *types.BackendConfig) (*RedisStore, error) {
	if config == nil || config.Host == "" {
		return nil, types.ErrNoBackendConfigured
	}

	port := config.Port
	if port == 0 {
		port = 6379
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, port),
		Password: config.Password,
		DB:       config.DB,
	}

	applyPoolOptions(opts, config)

	return &RedisStore{
		client: redis.NewClient(opts),
		name:   "redis",
	}, nil
}

func applyPoolOptions(opts *redis.Options, config *types.BackendConfig) {
	if config == nil {
		return
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConnections > 0 {
		opts.MinIdleConns = config.MinIdleConnections
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}
}

func (s *RedisStore) Name() string {
	return s.name
}

func (s *RedisStore) Distributed() bool {
	return true
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, types.ErrCacheMiss
		}
		return nil, types.WrapError(err, "redis get failed")
	}

	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return types.WrapError(err, "redis set failed")
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return types.WrapError(err, "redis delete failed")
	}

	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, types.WrapError(err, "redis exists failed")
	}

	return n > 0, nil
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (types.WindowCount, error) {
	if key == "" {
		return types.WindowCount{}, types.ErrCacheKeyEmpty
	}

	result, err := incrWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return types.WindowCount{}, types.WrapError(err, "redis incr window failed")
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return types.WindowCount{}, types.NewErrorf("unexpected incr window reply: %v", result)
	}

	count, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)

	remaining := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		remaining = window
	}

	return types.WindowCount{Count: count, Remaining: remaining}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return types.Errorf(types.ErrBackendUnavailable, "redis ping: %v", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
