// Package ratelimit bounds the request rate per (client IP, action) with a
// sliding window kept in the relational store, and keeps a hard block list
// of IP addresses.
//
// Check is delete-old + count + insert and is not atomic against concurrent
// requests of the same identifier; slight over-admission under contention
// is accepted, the limiter is an abuse deterrent rather than a quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/utils"
)

// Policy is the limit applied at one call site.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Store keeps one row per admitted request.
type Store interface {
	DeleteOlderThan(ctx context.Context, identifier string, cutoff time.Time) error
	Count(ctx context.Context, identifier string, since time.Time) (int, error)
	Insert(ctx context.Context, identifier, ip string, at time.Time) error
	Oldest(ctx context.Context, identifier string, since time.Time) (time.Time, bool, error)
}

// BlockStore is the authoritative block list.
type BlockStore interface {
	Block(ctx context.Context, ip string, until time.Time, reason string) error
	ActiveUntil(ctx context.Context, ip string, now time.Time) (time.Time, bool, error)
	Unblock(ctx context.Context, ip string) (int64, error)
	Active(ctx context.Context, now time.Time) ([]model.BlockedIP, error)
}

// BlockCache remembers positive block decisions until they lapse, so that
// blocked clients are turned away without a store query.
type BlockCache interface {
	Blocked(ctx context.Context, ip string) bool
	Remember(ctx context.Context, ip string, until time.Time)
	Forget(ctx context.Context, ip string)
}

// Limiter applies policies against a Store.  It holds no per-client state
// and is safe for concurrent use.
type Limiter struct {
	store  Store
	blocks BlockStore
	cache  BlockCache
	now    func() time.Time
}

// NewLimiter wires a limiter.  cache may be nil; now may be nil (time.Now).
func NewLimiter(store Store, blocks BlockStore, cache BlockCache, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, blocks: blocks, cache: cache, now: now}
}

// Identifier is the hex SHA-256 of "ip:key".
func Identifier(ip, key string) string { return utils.SHA256Hex(ip + ":" + key) }

// Check admits one request for (ip, key) under p.  A false result with a nil
// error means the limit is reached; the request is not recorded then.
func (l *Limiter) Check(ctx context.Context, p Policy, ip, key string) (bool, error) {
	id := Identifier(ip, key)
	now := l.now().UTC()
	cutoff := now.Add(-p.Window)

	if err := l.store.DeleteOlderThan(ctx, id, cutoff); err != nil {
		return false, fmt.Errorf("ratelimit cleanup: %w", err)
	}
	n, err := l.store.Count(ctx, id, cutoff)
	if err != nil {
		return false, fmt.Errorf("ratelimit count: %w", err)
	}
	if n >= p.Max {
		return false, nil
	}
	if err := l.store.Insert(ctx, id, ip, now); err != nil {
		return false, fmt.Errorf("ratelimit record: %w", err)
	}
	return true, nil
}

// Remaining is p.Max minus the requests currently in the window, floored at 0.
func (l *Limiter) Remaining(ctx context.Context, p Policy, ip, key string) (int, error) {
	n, err := l.store.Count(ctx, Identifier(ip, key), l.now().UTC().Add(-p.Window))
	if err != nil {
		return 0, fmt.Errorf("ratelimit count: %w", err)
	}
	return max(0, p.Max-n), nil
}

// ResetTime is when the oldest request in the window falls out of it, or
// now+window when the window is empty.
func (l *Limiter) ResetTime(ctx context.Context, p Policy, ip, key string) (time.Time, error) {
	now := l.now().UTC()
	oldest, ok, err := l.store.Oldest(ctx, Identifier(ip, key), now.Add(-p.Window))
	if err != nil {
		return time.Time{}, fmt.Errorf("ratelimit oldest: %w", err)
	}
	if !ok {
		return now.Add(p.Window), nil
	}
	return oldest.Add(p.Window), nil
}

// Status bundles the values sent as X-RateLimit-* headers.
type Status struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Status reads Remaining and ResetTime in one call.
func (l *Limiter) Status(ctx context.Context, p Policy, ip, key string) (Status, error) {
	rem, err := l.Remaining(ctx, p, ip, key)
	if err != nil {
		return Status{}, err
	}
	reset, err := l.ResetTime(ctx, p, ip, key)
	if err != nil {
		return Status{}, err
	}
	return Status{Limit: p.Max, Remaining: rem, Reset: reset}, nil
}

// IsBlocked reports whether ip is on the block list right now.
func (l *Limiter) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if l.cache != nil && l.cache.Blocked(ctx, ip) {
		return true, nil
	}
	until, ok, err := l.blocks.ActiveUntil(ctx, ip, l.now().UTC())
	if err != nil {
		return false, fmt.Errorf("ratelimit block lookup: %w", err)
	}
	if ok && l.cache != nil {
		l.cache.Remember(ctx, ip, until)
	}
	return ok, nil
}

// ErrBadDuration is returned by BlockIP for a block that would not end in
// the future.
var ErrBadDuration = errors.New("ratelimit: block duration must be positive")

// BlockIP blocks ip for d and returns when the block ends.
func (l *Limiter) BlockIP(ctx context.Context, ip string, d time.Duration, reason string) (time.Time, error) {
	now := l.now().UTC()
	until := now.Add(d)
	if d <= 0 || !until.After(now) {
		return time.Time{}, ErrBadDuration
	}
	if err := l.blocks.Block(ctx, ip, until, reason); err != nil {
		return time.Time{}, fmt.Errorf("ratelimit block: %w", err)
	}
	if l.cache != nil {
		l.cache.Remember(ctx, ip, until)
	}
	return until, nil
}

// ActiveBlocks lists the blocks that have not ended yet, latest first.
func (l *Limiter) ActiveBlocks(ctx context.Context) ([]model.BlockedIP, error) {
	blocks, err := l.blocks.Active(ctx, l.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("ratelimit list blocks: %w", err)
	}
	return blocks, nil
}

// UnblockIP lifts every block on ip and reports whether one existed.
func (l *Limiter) UnblockIP(ctx context.Context, ip string) (bool, error) {
	n, err := l.blocks.Unblock(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("ratelimit unblock: %w", err)
	}
	if l.cache != nil {
		l.cache.Forget(ctx, ip)
	}
	return n > 0, nil
}
