package vzfs

import (
	"sync"
	"time"
)

// entityCache is a thread-safe in-memory cache of entity records, adapted
// from an inode cache: same LRU-by-access-time eviction, same
// enable/disable/flush surface, keyed by canonical path instead of an
// inode number since VZFS addresses entities by materialized path.
type entityCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	hits    uint64
	misses  uint64
	enabled bool
}

type cacheEntry struct {
	entity   *Entity
	lastUsed time.Time
}

// newEntityCache creates a new entity cache with the given maximum size. A
// maxSize of 0 or negative disables the cache.
func newEntityCache(maxSize int) *entityCache {
	return &entityCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		enabled: maxSize > 0,
	}
}

func (c *entityCache) Get(path string) *Entity {
	if !c.enabled {
		return nil
	}

	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	entry.lastUsed = time.Now()
	c.hits++
	c.mu.Unlock()

	return entry.entity.clone()
}

func (c *entityCache) Put(e *Entity) {
	if !c.enabled || e == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[e.Path] = &cacheEntry{
		entity:   e.clone(),
		lastUsed: time.Now(),
	}
}

func (c *entityCache) Invalidate(path string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *entityCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

func (c *entityCache) Enable(maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.enabled = maxSize > 0
	if !c.enabled {
		c.entries = make(map[string]*cacheEntry)
	}
}

// CacheStats reports entity cache hit/miss performance.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	Enabled bool
}

func (c *entityCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		Enabled: c.enabled,
	}
}

// evictOldest removes the least recently used entry. Must be called with
// c.mu held.
func (c *entityCache) evictOldest() {
	var oldestPath string
	var oldestTime time.Time
	first := true

	for path, entry := range c.entries {
		if first || entry.lastUsed.Before(oldestTime) {
			oldestPath = path
			oldestTime = entry.lastUsed
			first = false
		}
	}

	if !first {
		delete(c.entries, oldestPath)
	}
}
