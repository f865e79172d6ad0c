package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbot/policyqa/types"
)

func sampleResponse(text string) types.Response {
	return types.Response{
		Answer:     text,
		Confidence: 0.8,
		Domains:    []types.Domain{types.DomainDental},
		Status:     types.StatusApproved,
	}
}

func TestCacheKeyNormalization(t *testing.T) {
	assert.Equal(t,
		cacheKey("What is covered?", types.DomainCar),
		cacheKey("  what IS   covered ?! ", types.DomainCar))
	assert.NotEqual(t,
		cacheKey("What is covered?", types.DomainCar),
		cacheKey("What is covered?", types.DomainHome))
}

func TestCacheDisabled(t *testing.T) {
	c := NewAnswerCache(CacheConfig{Enabled: false}, nil)
	require.Nil(t, c)

	// Nil receivers are safe no-ops.
	c.Set(context.Background(), "k", sampleResponse("a"))
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Close())
}

func TestCacheLocalRoundTrip(t *testing.T) {
	c := NewAnswerCache(DefaultCacheConfig(), nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", sampleResponse("answer"))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "answer", got.Answer)
	assert.Equal(t, types.StatusApproved, got.Status)
}

func TestCacheLRUEviction(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.Size = 2
	c := NewAnswerCache(cfg, nil)
	ctx := context.Background()

	c.Set(ctx, "a", sampleResponse("a"))
	c.Set(ctx, "b", sampleResponse("b"))
	// Touch "a" so "b" becomes the eviction victim.
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)

	c.Set(ctx, "c", sampleResponse("c"))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestCacheLocalExpiry(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.TTL = 30 * time.Millisecond
	c := NewAnswerCache(cfg, nil)
	ctx := context.Background()

	c.Set(ctx, "k", sampleResponse("a"))
	time.Sleep(60 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheRedisTier(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := DefaultCacheConfig()
	cfg.RedisAddr = srv.Addr()
	ctx := context.Background()

	writer := NewAnswerCache(cfg, nil)
	defer writer.Close()
	writer.Set(ctx, "k", sampleResponse("shared"))

	// A fresh instance has a cold local tier; the hit comes from Redis.
	reader := NewAnswerCache(cfg, nil)
	defer reader.Close()
	got, ok := reader.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "shared", got.Answer)
	assert.Equal(t, 1, reader.Len(), "redis hits are promoted into the local tier")
}

func TestCacheRedisExpiry(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := DefaultCacheConfig()
	cfg.RedisAddr = srv.Addr()
	cfg.TTL = time.Minute
	ctx := context.Background()

	writer := NewAnswerCache(cfg, nil)
	defer writer.Close()
	writer.Set(ctx, "k", sampleResponse("shared"))

	srv.FastForward(2 * time.Minute)

	reader := NewAnswerCache(cfg, nil)
	defer reader.Close()
	_, ok := reader.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheRedisDownDegradesToLocal(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.RedisAddr = "127.0.0.1:1" // nothing listens here
	cfg.RedisTimeout = 50 * time.Millisecond
	c := NewAnswerCache(cfg, nil)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", sampleResponse("local"))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "a dead redis must not break local caching")
	assert.Equal(t, "local", got.Answer)
}
