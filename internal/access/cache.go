package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/metrics"
)

// OwnershipCache caches the last observed owner of a rights token. The
// TTL is short: the gate trades a bounded staleness window for not
// querying the ledger on every read.
type OwnershipCache interface {
	Get(ctx context.Context, tokenID string) (string, bool)
	Set(ctx context.Context, tokenID, owner string)
}

// RedisOwnershipCache implements OwnershipCache on Redis
type RedisOwnershipCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisOwnershipCache(redisClient *redis.Client, ttl time.Duration) *RedisOwnershipCache {
	return &RedisOwnershipCache{redis: redisClient, ttl: ttl}
}

func (c *RedisOwnershipCache) Get(ctx context.Context, tokenID string) (string, bool) {
	owner, err := c.redis.Get(ctx, c.key(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.OwnershipCacheMisses.Inc()
		return "", false
	}
	if err != nil {
		// Cache trouble degrades to a ledger query, never to a denial.
		metrics.OwnershipCacheMisses.Inc()
		return "", false
	}
	metrics.OwnershipCacheHits.Inc()
	return owner, true
}

func (c *RedisOwnershipCache) Set(ctx context.Context, tokenID, owner string) {
	_ = c.redis.Set(ctx, c.key(tokenID), owner, c.ttl).Err()
}

func (c *RedisOwnershipCache) key(tokenID string) string {
	return fmt.Sprintf("token:owner:%s", tokenID)
}
