package knowledge

import (
	"sync"
	"time"
)

// InMemoryCorpusCache is a process-local CorpusCache.
// Thread-safe for concurrent access.
type InMemoryCorpusCache struct {
	snapshot *Snapshot
	cachedAt time.Time
	config   CacheConfig
	now      func() time.Time
	mu       sync.RWMutex
}

// NewInMemoryCorpusCache creates an empty cache.
func NewInMemoryCorpusCache(config CacheConfig) *InMemoryCorpusCache {
	return &InMemoryCorpusCache{config: config, now: time.Now}
}

// Get returns the cached snapshot unless it is missing or expired.
// Snapshots are treated as immutable once stored.
func (c *InMemoryCorpusCache) Get() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.validLocked() {
		return nil
	}
	return c.snapshot
}

// Set stores s and restarts the TTL window.
func (c *InMemoryCorpusCache) Set(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = s
	c.cachedAt = c.now()
}

// Invalidate drops the cached snapshot.
func (c *InMemoryCorpusCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = nil
}

// IsValid reports whether Get would hit.
func (c *InMemoryCorpusCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validLocked()
}

func (c *InMemoryCorpusCache) validLocked() bool {
	if c.snapshot == nil {
		return false
	}
	if c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL {
		return false
	}
	return true
}
