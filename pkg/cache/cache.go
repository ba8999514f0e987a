// Package cache stores derived explorer results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/msgvis/msgvis/pkg/metrics"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "msgvis:"

// Cache is a JSON value cache.
type Cache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// Flush removes every key of this cache and returns how many were removed.
	Flush(ctx context.Context) (int64, error)
}

// DimensionKey is the key of a dataset's dimension distribution. The
// creation time is part of the key so a dataset recreated under a reused id
// never sees entries of its predecessor.
func DimensionKey(datasetID int64, createdAt time.Time, dimension string) string {
	return fmt.Sprintf("dimension:%d:%d:%s", datasetID, createdAt.UnixMicro(), dimension)
}

// RedisCache is a Cache on a Redis client.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache whose entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.IncCache("miss")
		return false, nil
	}
	if err != nil {
		metrics.IncCache("error")
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		metrics.IncCache("error")
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	metrics.IncCache("hit")
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, KeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// Flush deletes keys matching the prefix with SCAN, so it never blocks the
// server the way KEYS would.
func (c *RedisCache) Flush(ctx context.Context) (int64, error) {
	var deleted int64
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 500).Iterator()

	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// NopCache never stores anything. Used when Redis is not configured.
type NopCache struct{}

var _ Cache = NopCache{}

func (NopCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (NopCache) Set(context.Context, string, any) error { return nil }
func (NopCache) Flush(context.Context) (int64, error) { return 0, nil }
