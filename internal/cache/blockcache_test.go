package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBlockCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := NewRedisBlockCache(rdb, "agency", func() time.Time { return now }, nil)
	ctx := context.Background()

	assert.False(t, c.Blocked(ctx, "8.8.8.8"))

	c.Remember(ctx, "8.8.8.8", now.Add(time.Hour))
	assert.True(t, c.Blocked(ctx, "8.8.8.8"))
	assert.True(t, mr.Exists("agency:blocked:8.8.8.8"))
	assert.Equal(t, time.Hour, mr.TTL("agency:blocked:8.8.8.8"))

	mr.FastForward(time.Hour)
	assert.False(t, c.Blocked(ctx, "8.8.8.8"))

	c.Remember(ctx, "1.1.1.1", now.Add(time.Minute))
	c.Forget(ctx, "1.1.1.1")
	assert.False(t, c.Blocked(ctx, "1.1.1.1"))
}

func TestRedisBlockCacheIgnoresLapsedBlocks(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := NewRedisBlockCache(rdb, "agency", func() time.Time { return now }, nil)

	c.Remember(context.Background(), "8.8.8.8", now.Add(-time.Second))
	assert.False(t, mr.Exists("agency:blocked:8.8.8.8"))
}

func TestRedisBlockCacheDownIsAMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisBlockCache(rdb, "agency", nil, nil)
	mr.Close()

	assert.False(t, c.Blocked(context.Background(), "8.8.8.8"))
}

func TestMemoryBlockCache(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := NewMemoryBlockCache(func() time.Time { return now })
	ctx := context.Background()

	c.Remember(ctx, "8.8.8.8", now.Add(time.Minute))
	require.True(t, c.Blocked(ctx, "8.8.8.8"))
	assert.False(t, c.Blocked(ctx, "8.8.4.4"))

	now = now.Add(time.Minute)
	assert.False(t, c.Blocked(ctx, "8.8.8.8"), "lapsed by clock")

	now = now.Add(-30 * time.Second)
	c.Forget(ctx, "8.8.8.8")
	assert.False(t, c.Blocked(ctx, "8.8.8.8"))
}
