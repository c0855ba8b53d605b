package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps markers in Redis with SET NX EX, so every instance
// behind a load balancer shares one view.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps client. The cache owns the client and closes it.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, prefix: KeyPrefix}
}

func (c *RedisCache) MarkSeen(ctx context.Context, fp string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+fp, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (c *RedisCache) Release(ctx context.Context, fp string) error {
	if err := c.client.Del(ctx, c.prefix+fp).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }
