package rat

import (
	"context"
	"sync"
)

// Key identifies a cached status: the occurrence code and product code
// of a line item.
type Key struct {
	Occurrence string
	Product    string
}

// Cache is the process-wide status cache consulted before a lookup.
type Cache interface {
	Get(ctx context.Context, key Key) (string, bool)
	Put(ctx context.Context, key Key, token string) error
}

// MemoryCache is an in-process Cache. Concurrent writers to the same key
// are fine; the last write wins.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[Key]string{}}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *MemoryCache) Put(_ context.Context, key Key, token string) error {
	c.mu.Lock()
	c.entries[key] = token
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LayeredCache reads through a fast front cache to a persistent back
// cache and writes to both.
type LayeredCache struct {
	front Cache
	back  Cache
}

func NewLayeredCache(front, back Cache) *LayeredCache {
	return &LayeredCache{front: front, back: back}
}

func (c *LayeredCache) Get(ctx context.Context, key Key) (string, bool) {
	if v, ok := c.front.Get(ctx, key); ok {
		return v, true
	}
	v, ok := c.back.Get(ctx, key)
	if ok {
		_ = c.front.Put(ctx, key, v)
	}
	return v, ok
}

func (c *LayeredCache) Put(ctx context.Context, key Key, token string) error {
	if err := c.front.Put(ctx, key, token); err != nil {
		return err
	}
	return c.back.Put(ctx, key, token)
}
