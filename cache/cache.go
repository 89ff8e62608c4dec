// Package cache provides a content-addressed TTL cache with single-flight
// fill, used by the fetch nodes for cache-then-network policies.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the entry lifetime when Set is called with ttl <= 0.
const DefaultTTL = time.Hour

// Cache is the get/set/invalidate contract shared by implementations.
// A value past its TTL is never served.
type Cache interface {
	Get(ctx context.Context, key string) (value any, ok bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// Key builds the content address for a cache entry from its parts. Parts are
// sorted so that callers need not canonicalize ordering themselves; the key
// is the hex SHA-256 of the sorted, joined parts.
func Key(parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-process Cache with TTL expiry and a background janitor.
// Concurrent fills for the same key are collapsed to one via single-flight.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	flight  singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}

	// now is injectable for TTL tests.
	now func() time.Time
}

// NewMemory creates a Memory cache with the given default TTL (DefaultTTL
// when <= 0) and starts a janitor that sweeps expired entries once a minute.
// Call Close when done.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]entry),
		ttl:     defaultTTL,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go m.janitor()
	return m
}

// Get returns the live value for key. Expired entries are treated as misses
// and removed lazily.
func (m *Memory) Get(ctx context.Context, key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.Invalidate(ctx, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl (the cache default when ttl <= 0).
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

// Invalidate removes key.
func (m *Memory) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// GetOrFill returns the cached value for key, or runs fill to populate it.
// Concurrent callers for the same key share one fill (no cache stampede).
// A fill error is returned to every waiting caller and nothing is stored.
func (m *Memory) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) (any, error)) (any, bool, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, true, nil
	}

	v, err, _ := m.flight.Do(key, func() (any, error) {
		// Re-check: another flight may have filled between Get and Do.
		if v, ok := m.Get(ctx, key); ok {
			return v, nil
		}
		v, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Len returns the number of stored entries, expired included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
