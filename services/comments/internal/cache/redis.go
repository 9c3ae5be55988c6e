package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache backs ThreadCache with Redis. All failures degrade to cache
// misses so the store stays the source of truth.
type RedisCache struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisCache(rdb *redis.Client, log *zap.Logger) *RedisCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{rdb: rdb, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		c.log.Warn("cache: get failed", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return payload, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.log.Warn("cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Warn("cache: invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

var _ ThreadCache = (*RedisCache)(nil)
var _ ThreadCache = Noop{}
