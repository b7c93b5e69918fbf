package rules

import (
	"sync"
	"time"
)

// InMemoryDefinitionsCache is a simple in-memory implementation of
// DefinitionsCache. Thread-safe for concurrent access.
type InMemoryDefinitionsCache struct {
	defs       []*StoredDefinition
	cachedAt   time.Time
	config     CacheConfig
	mu         sync.RWMutex
	generation uint64
	isValid    bool
}

// NewInMemoryDefinitionsCache creates a new in-memory definitions cache
func NewInMemoryDefinitionsCache(config CacheConfig) *InMemoryDefinitionsCache {
	return &InMemoryDefinitionsCache{
		config: config,
	}
}

// Get retrieves cached definitions.
// Returns nil if cache is invalid or expired.
func (c *InMemoryDefinitionsCache) Get() []*StoredDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Return copy to prevent external modifications to the slice
	out := make([]*StoredDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Generation returns the current invalidation generation.
func (c *InMemoryDefinitionsCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generation
}

// Set stores definitions unless an Invalidate happened after gen was read.
func (c *InMemoryDefinitionsCache) Set(gen uint64, defs []*StoredDefinition) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}

	c.defs = make([]*StoredDefinition, len(defs))
	copy(c.defs, defs)
	c.cachedAt = time.Now()
	c.isValid = true
	return true
}

// Invalidate clears the cache and starts a new generation
func (c *InMemoryDefinitionsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.isValid = false
	c.defs = nil
}
