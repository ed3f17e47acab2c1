package stats

import (
	"sync"
	"time"
)

// Cache is a tiny in-memory cache for trip stats keyed by trip ID. It keeps
// the stats endpoint from hammering Redis on every page refresh.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  Stats
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(tripID string) (Stats, bool) {
	c.mu.RLock()
	e, ok := c.store[tripID]
	c.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, tripID)
		c.mu.Unlock()
		return Stats{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(tripID string, v Stats) {
	c.mu.Lock()
	c.store[tripID] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
