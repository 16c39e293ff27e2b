// Package cache is a small in-memory TTL cache used to shield the database
// from dashboard polling (ticket lists, sync status).
package cache

import (
	"sync"
	"time"
)

type item struct {
	data      interface{}
	expiresAt time.Time
}

// Cache is a concurrency-safe map with per-entry TTL. Expired entries are
// dropped lazily on read.
type Cache struct {
	mu    sync.Mutex
	items map[string]item
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{items: make(map[string]item)}
}

// Get returns the cached value, or false when absent or expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(it.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return it.data, true
}

// Set stores a value with a TTL.
func (c *Cache) Set(key string, data interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{data: data, expiresAt: time.Now().Add(ttl)}
}

// Delete removes one entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all entries. Called after a sync pass so the dashboard sees
// fresh data immediately.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
}
