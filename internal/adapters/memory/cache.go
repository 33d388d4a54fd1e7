package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-process ports.CacheService used when no shared cache is
// configured.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{items: make(map[string]entry), now: time.Now}
}

// Get returns the value for key, or nil when missing or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return nil, nil
	}
	return e.value, nil
}

// Set stores value for ttlSeconds. A non-positive TTL removes the key.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttlSeconds <= 0 {
		delete(c.items, key)
		return nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	c.items[key] = entry{value: buf, expiresAt: c.now().Add(time.Duration(ttlSeconds) * time.Second)}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}
