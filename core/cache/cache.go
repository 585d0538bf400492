// Package cache is an in-memory key/value store with a per-entry expiry.
//
// Staleness is checked lazily on read: entries are never evicted on a timer,
// they are overwritten by the next Set for the same key or removed with Delete.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Entry is one cached value and the instant after which it is stale.
type Entry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// Stats counts the outcome of IsFresh lookups.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

type Cache[V any] struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]Entry[V]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New[V any]() *Cache[V] {
	return NewWithClock[V](clock.New())
}

// NewWithClock returns a Cache reading the time from clk (use clock.NewMock() in tests).
func NewWithClock[V any](clk clock.Clock) *Cache[V] {
	return &Cache[V]{
		clock:   clk,
		entries: make(map[string]Entry[V]),
	}
}

// IsFresh reports whether an entry exists for key and has not expired yet.
func (c *Cache[V]) IsFresh(key string) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.clock.Now().Before(e.ExpiresAt) {
		c.hits.Add(1)
		return true
	}
	c.misses.Add(1)
	return false
}

// Get returns the cached value whether it is fresh or not.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.Value, ok
}

// Entry returns the whole entry stored for key.
func (c *Cache[V]) Entry(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set stores value for ttl, replacing any previous entry.
// A non-positive ttl stores an entry that is already stale.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	e := Entry[V]{
		Key:       key,
		Value:     value,
		ExpiresAt: c.clock.Now().Add(ttl),
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
