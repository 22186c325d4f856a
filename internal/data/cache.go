// Package data provides data access layer implementations.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache key prefixes.
const (
	// CacheKeyProviders is the key for the enabled provider list cache.
	CacheKeyProviders = "providers:enabled"
)

// Cache TTL durations.
const (
	// TTLProviders is the Redis TTL for the provider list cache.
	TTLProviders = 30 * time.Second

	// l1TTL is the in-process cache TTL; kept shorter than the Redis TTL so
	// a stale local entry can never outlive the shared one.
	l1TTL = 10 * time.Second

	// l1Size bounds the in-process cache entry count.
	l1Size = 256
)

// ErrCacheNotFound is returned when a cache key does not exist
var ErrCacheNotFound = errors.New("cache: key not found")

// CacheClient defines the interface for cache operations.
// Implementations must be thread-safe and handle serialization/deserialization.
type CacheClient interface {
	// Get retrieves a value from cache and deserializes it into dest.
	// Returns ErrCacheNotFound if key doesn't exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in cache with the specified TTL.
	// The value is serialized to JSON before storage.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key from cache.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in cache.
	Exists(ctx context.Context, key string) (bool, error)
}

// tieredCache is a two-tier CacheClient: an in-process expirable LRU in
// front of Redis. Reads hit the LRU first; misses fall through to Redis and
// backfill the LRU. Writes and deletes go to both tiers.
type tieredCache struct {
	local  *expirable.LRU[string, []byte]
	client *redis.Client
}

// NewCacheClient creates the two-tier cache client.
// If the Redis client is nil, only the in-process tier is used.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &tieredCache{
		local:  expirable.NewLRU[string, []byte](l1Size, nil, l1TTL),
		client: rdb,
	}
}

// Get retrieves a value, trying the in-process tier before Redis.
// Returns ErrCacheNotFound if the key exists in neither tier.
func (c *tieredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if raw, ok := c.local.Get(key); ok {
		return json.Unmarshal(raw, dest)
	}

	if c.client == nil {
		return ErrCacheNotFound
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	c.local.Add(key, val)
	return json.Unmarshal(val, dest)
}

// Set stores a value in both tiers. The Redis write is authoritative; the
// local tier expires on its own shorter TTL.
func (c *tieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	c.local.Add(key, raw)

	if c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from both tiers.
func (c *tieredCache) Delete(ctx context.Context, key string) error {
	c.local.Remove(key)

	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in either tier.
func (c *tieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := c.local.Get(key); ok {
		return true, nil
	}

	if c.client == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}
