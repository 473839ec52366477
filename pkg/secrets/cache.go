package secrets

import (
	"context"
	"sync"
	"time"
)

type cacheItem[T any] struct {
	value      T
	expiration time.Time
}

// Cache is a thread-safe TTL cache for resolved secret material.
type Cache[T any] struct {
	mu   sync.RWMutex
	data map[string]cacheItem[T]
	ttl  time.Duration
	now  func() time.Time
}

// NewCache creates a TTL cache. A non-positive ttl disables expiry.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		data: make(map[string]cacheItem[T]),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *Cache[T]) expired(item cacheItem[T], now time.Time) bool {
	return c.ttl > 0 && now.After(item.expiration)
}

// Get returns a cached value if present and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	item, ok := c.data[key]
	c.mu.RUnlock()
	if ok && !c.expired(item, c.now()) {
		return item.value, true
	}
	if ok {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
	}
	var zero T
	return zero, false
}

// Put inserts or overwrites an entry.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.data[key] = cacheItem[T]{value: value, expiration: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Bust deletes a single entry (e.g., after a rejected credential).
func (c *Cache[T]) Bust(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Len counts entries, expired ones included until they are swept.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// StartCleaner sweeps expired entries every interval until ctx is done.
func (c *Cache[T]) StartCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache[T]) sweep() {
	now := c.now()
	c.mu.Lock()
	for k, v := range c.data {
		if c.expired(v, now) {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()
}
