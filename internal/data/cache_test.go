package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (CacheClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCacheClient(rdb), mr
}

type cachedPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCacheSetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	in := cachedPayload{Name: "alpha", Count: 3}
	require.NoError(t, cache.Set(ctx, "test:key", in, time.Minute))

	var out cachedPayload
	require.NoError(t, cache.Get(ctx, "test:key", &out))
	assert.Equal(t, in, out)
}

func TestCacheGetMissing(t *testing.T) {
	cache, _ := newTestCache(t)

	var out cachedPayload
	err := cache.Get(context.Background(), "missing:key", &out)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCacheLocalTierServesAfterRedisLoss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	in := cachedPayload{Name: "beta", Count: 1}
	require.NoError(t, cache.Set(ctx, "test:key", in, time.Minute))

	// Drop the key from Redis; the in-process tier still has it.
	mr.Del("test:key")

	var out cachedPayload
	require.NoError(t, cache.Get(ctx, "test:key", &out))
	assert.Equal(t, in, out)
}

func TestCacheRedisBackfillsLocalTier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	// Seed Redis directly, bypassing the local tier.
	require.NoError(t, mr.Set("test:key", `{"name":"gamma","count":7}`))

	cache := NewCacheClient(rdb)
	var out cachedPayload
	require.NoError(t, cache.Get(ctx, "test:key", &out))
	assert.Equal(t, cachedPayload{Name: "gamma", Count: 7}, out)

	// Now served locally even with Redis gone.
	mr.Del("test:key")
	var again cachedPayload
	require.NoError(t, cache.Get(ctx, "test:key", &again))
	assert.Equal(t, out, again)
}

func TestCacheDeleteRemovesBothTiers(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "test:key", cachedPayload{Name: "d"}, time.Minute))
	require.NoError(t, cache.Delete(ctx, "test:key"))

	var out cachedPayload
	assert.ErrorIs(t, cache.Get(ctx, "test:key", &out), ErrCacheNotFound)
	assert.False(t, mr.Exists("test:key"))
}

func TestCacheExists(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := cache.Exists(ctx, "test:key")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "test:key", cachedPayload{}, time.Minute))
	ok, err = cache.Exists(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheTTLPropagatesToRedis(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "test:key", cachedPayload{Name: "e"}, 30*time.Second))
	assert.Greater(t, mr.TTL("test:key"), time.Duration(0))
}

func TestCacheWithoutRedisDegradesToLocal(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "test:key", cachedPayload{Name: "f"}, time.Minute))

	var out cachedPayload
	require.NoError(t, cache.Get(ctx, "test:key", &out))
	assert.Equal(t, "f", out.Name)

	require.NoError(t, cache.Delete(ctx, "test:key"))
	assert.ErrorIs(t, cache.Get(ctx, "test:key", &out), ErrCacheNotFound)
}
