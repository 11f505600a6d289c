package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache fronts ComputeCreditsStatus's aggregate queries with a
// short-TTL cache, grounded on Sergey-Bar-Alfred's redisclient.Client
// (redis.ParseURL + redis.NewClient), generalized from a bare
// connectivity check into a JSON get/set cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses addr as a Redis URL and returns a cache backed
// by it.
func NewRedisCache(addr string) (*RedisCache, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity, matching the teacher-adjacent client's
// own Ping method.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (CreditsStatus, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CreditsStatus{}, false, nil
	}
	if err != nil {
		return CreditsStatus{}, false, fmt.Errorf("redis get: %w", err)
	}
	var status CreditsStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return CreditsStatus{}, false, fmt.Errorf("unmarshal cached credits status: %w", err)
	}
	return status, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, status CreditsStatus, ttl time.Duration) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal credits status: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

const cacheKeyPrefix = "aharadar:budget:"
