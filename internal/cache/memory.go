package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process LRU cache with per-entry expiry.
type MemoryBackend struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	now      func() time.Time
	mu       sync.Mutex
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates a cache with the given capacity. Capacity <= 0 means 10000.
func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryBackend{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get returns a copy of the value for key if present and not expired.
func (c *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false, nil
	}
	c.lru.MoveToFront(elem)
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores a copy of value for key, evicting the least recently used entry if at capacity.
// A zero ttl never expires.
func (c *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &cacheEntry{key: key, value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return nil
	}
	c.cache[key] = c.lru.PushFront(entry)
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	return nil
}

// DeletePrefix removes all keys with the given prefix.
func (c *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, elem := range c.cache {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *MemoryBackend) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close is a no-op for MemoryBackend.
func (c *MemoryBackend) Close() error {
	return nil
}

func (c *MemoryBackend) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.cache, elem.Value.(*cacheEntry).key)
}
