package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Pairs int      `json:"pairs"`
	Tags  []string `json:"tags"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, "r", report{Pairs: 3, Tags: []string{"a"}}, time.Minute))

	var got report
	require.NoError(t, c.Get(ctx, "r", &got))
	assert.Equal(t, report{Pairs: 3, Tags: []string{"a"}}, got)

	ok, err := c.Exists(ctx, "missing", "r")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "r"))
	assert.ErrorIs(t, c.Get(ctx, "r", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", 1, time.Second))
	now = now.Add(2 * time.Second)

	var v int
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { now = now.Add(time.Millisecond); return now }

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "a", &v))
	assert.NoError(t, c.Get(ctx, "c", &v))
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	ok, err := c.TryLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Unlock(ctx, "tick"))
	ok, err = c.TryLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLayeredCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryCache()
	lc := NewLayeredCache(shared, WithLayeredMemory(0, time.Minute))
	defer lc.Close()

	require.NoError(t, shared.Set(ctx, "r", report{Pairs: 8}, time.Hour))

	var got report
	require.NoError(t, lc.Get(ctx, "r", &got))
	assert.Equal(t, 8, got.Pairs)

	// Served from L1 after the shared copy disappears.
	require.NoError(t, shared.Delete(ctx, "r"))
	got = report{}
	require.NoError(t, lc.Get(ctx, "r", &got))
	assert.Equal(t, 8, got.Pairs)

	require.NoError(t, lc.Delete(ctx, "r"))
	assert.ErrorIs(t, lc.Get(ctx, "r", &got), ErrCacheMiss)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "tick:BTC:42", GenerateKeyWithParams("tick", "BTC", 42))
	assert.Equal(t, "tick:last", GenerateKey("tick", "last"))
}

func TestRedisClientOptions(t *testing.T) {
	cfg := DefaultRedisConfig()
	for _, opt := range []RedisOption{
		WithRedisAddress("redis.internal", 0),
		WithRedisAuth("s3cret", 2),
		WithRedisPool(1),
		WithRedisPrefix(""),
	} {
		opt(&cfg)
	}

	o := cfg.clientOptions()
	assert.Equal(t, "redis.internal:6379", o.Addr)
	assert.Equal(t, "s3cret", o.Password)
	assert.Equal(t, 2, o.DB)
	assert.Equal(t, 1, o.PoolSize)
	assert.Equal(t, 1, o.MinIdleConns)
	assert.Equal(t, "forecrypt", cfg.Prefix)
}
