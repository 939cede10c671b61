// Package cache holds the fast-path copies of the IP block list.  The
// relational store stays authoritative; a miss here always falls through to
// it, so losing the cache only costs a query.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBlockCache keeps one key per blocked IP with a TTL equal to the time
// left on the block.
type RedisBlockCache struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
	log    *zap.Logger
}

func NewRedisBlockCache(rdb *redis.Client, prefix string, now func() time.Time, log *zap.Logger) *RedisBlockCache {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBlockCache{rdb: rdb, prefix: prefix, now: now, log: log}
}

func (c *RedisBlockCache) key(ip string) string { return c.prefix + ":blocked:" + ip }

func (c *RedisBlockCache) Blocked(ctx context.Context, ip string) bool {
	n, err := c.rdb.Exists(ctx, c.key(ip)).Result()
	if err != nil {
		c.log.Warn("block cache lookup failed", zap.String("ip", ip), zap.Error(err))
		return false
	}
	return n > 0
}

func (c *RedisBlockCache) Remember(ctx context.Context, ip string, until time.Time) {
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return
	}
	if err := c.rdb.SetEx(ctx, c.key(ip), until.UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		c.log.Warn("block cache write failed", zap.String("ip", ip), zap.Error(err))
	}
}

func (c *RedisBlockCache) Forget(ctx context.Context, ip string) {
	if err := c.rdb.Del(ctx, c.key(ip)).Err(); err != nil {
		c.log.Warn("block cache delete failed", zap.String("ip", ip), zap.Error(err))
	}
}

// MemoryBlockCache is the in-process variant used when Redis is not
// configured.  It is per instance, so an unblock on one node is only seen by
// the others once their entry expires.
type MemoryBlockCache struct {
	c   *gocache.Cache
	now func() time.Time
}

func NewMemoryBlockCache(now func() time.Time) *MemoryBlockCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryBlockCache{c: gocache.New(time.Hour, time.Minute), now: now}
}

func (m *MemoryBlockCache) Blocked(_ context.Context, ip string) bool {
	v, ok := m.c.Get(ip)
	if !ok {
		return false
	}
	until, _ := v.(time.Time)
	return m.now().Before(until)
}

func (m *MemoryBlockCache) Remember(_ context.Context, ip string, until time.Time) {
	ttl := until.Sub(m.now())
	if ttl <= 0 {
		return
	}
	m.c.Set(ip, until, ttl)
}

func (m *MemoryBlockCache) Forget(_ context.Context, ip string) { m.c.Delete(ip) }
