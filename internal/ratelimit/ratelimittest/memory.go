// Package ratelimittest provides an in-memory Store and BlockStore for tests
// of the limiter and of the HTTP guard.
package ratelimittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/agency-api/internal/model"
)

type entry struct {
	id, ip string
	at     time.Time
}

type block struct {
	until  time.Time
	reason string
}

// Memory implements ratelimit.Store and ratelimit.BlockStore.  Err, when
// set, is returned by every method to simulate a store outage.
type Memory struct {
	mu      sync.Mutex
	entries []entry
	blocks  map[string][]block
	Err     error
}

func New() *Memory { return &Memory{blocks: map[string][]block{}} }

func (m *Memory) DeleteOlderThan(_ context.Context, id string, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.id == id && e.at.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return nil
}

func (m *Memory) Count(_ context.Context, id string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	for _, e := range m.entries {
		if e.id == id && e.at.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Insert(_ context.Context, id, ip string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries = append(m.entries, entry{id: id, ip: ip, at: at})
	return nil
}

func (m *Memory) Oldest(_ context.Context, id string, since time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return time.Time{}, false, m.Err
	}
	var (
		oldest time.Time
		ok     bool
	)
	for _, e := range m.entries {
		if e.id == id && e.at.After(since) && (!ok || e.at.Before(oldest)) {
			oldest, ok = e.at, true
		}
	}
	return oldest, ok, nil
}

// Rows returns the number of stored request rows across identifiers.
func (m *Memory) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Block(_ context.Context, ip string, until time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.blocks[ip] = append(m.blocks[ip], block{until: until, reason: reason})
	return nil
}

func (m *Memory) ActiveUntil(_ context.Context, ip string, now time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return time.Time{}, false, m.Err
	}
	var (
		latest time.Time
		ok     bool
	)
	for _, b := range m.blocks[ip] {
		if b.until.After(now) && (!ok || b.until.After(latest)) {
			latest, ok = b.until, true
		}
	}
	return latest, ok, nil
}

func (m *Memory) Unblock(_ context.Context, ip string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := int64(len(m.blocks[ip]))
	delete(m.blocks, ip)
	return n, nil
}

func (m *Memory) Active(_ context.Context, now time.Time) ([]model.BlockedIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.BlockedIP
	for ip, bs := range m.blocks {
		for _, b := range bs {
			if b.until.After(now) {
				out = append(out, model.BlockedIP{IPAddress: ip, BlockedUntil: b.until, Reason: b.reason})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedUntil.After(out[j].BlockedUntil) })
	return out, nil
}

// Reason returns the reason of the most recent block on ip.
func (m *Memory) Reason(ip string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bs := m.blocks[ip]
	if len(bs) == 0 {
		return ""
	}
	return bs[len(bs)-1].reason
}
