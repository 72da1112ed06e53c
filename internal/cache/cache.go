// Package cache provides the bounded TTL cache and the single-flight
// guard used by every provider-facing service. Freshness is the caller's
// concern: Get returns the entry with its fetch time, GetFresh applies
// the cache's TTL. Eviction is strictly by insertion order; a Get never
// refreshes an entry's position.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value with the instant it was fetched.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
}

// Fresh reports whether the entry is younger than ttl.
func (e Entry[V]) Fresh(ttl time.Duration) bool {
	return ttl > 0 && time.Since(e.FetchedAt) < ttl
}

// Cache is a keyed store bounded by maxEntries with FIFO eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]Entry[V]
	order   []string
}

// New creates a cache with the given default TTL and capacity.
// max <= 0 means unbounded.
func New[V any](ttl time.Duration, max int) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]Entry[V]),
	}
}

// TTL returns the cache's configured freshness window.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the entry for key regardless of age.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// GetFresh returns the value for key only when it is within the TTL.
func (c *Cache[V]) GetFresh(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.Fresh(c.ttl) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Put stores value under key, stamping the fetch time now. Overwriting
// an existing key counts as a fresh insertion for eviction order. When
// the capacity is exceeded the oldest-inserted key is removed.
func (c *Cache[V]) Put(key string, value V) {
	c.PutAt(key, value, time.Now())
}

// PutAt stores value with an explicit fetch time, used by tests to seed
// aged entries.
func (c *Cache[V]) PutAt(key string, value V, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	}
	c.entries[key] = Entry[V]{Value: value, FetchedAt: fetchedAt}
	c.order = append(c.order, key)

	for c.max > 0 && len(c.entries) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// Len returns the number of stored entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Flight deduplicates concurrent work on identical keys. The first
// caller for a key runs fn; concurrent callers for the same key block
// and observe the first caller's result, error included. The entry is
// released when the call settles, so later callers start fresh work.
type Flight[V any] struct {
	g singleflight.Group
}

// Do runs fn under the single-flight guard for key. shared reports
// whether the result was produced by another in-flight caller.
func (f *Flight[V]) Do(key string, fn func() (V, error)) (V, bool, error) {
	v, err, shared := f.g.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero V
		return zero, shared, err
	}
	return v.(V), shared, nil
}
