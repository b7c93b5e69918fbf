package rules

import "time"

// DefinitionsCache provides an abstraction for caching the decoded list of
// stored business rules served by ListDefinitions.
type DefinitionsCache interface {
	// Get retrieves cached definitions, returns nil on a miss or expiry
	Get() []*StoredDefinition

	// Generation returns a counter bumped by every Invalidate.
	// Read it before loading from the store and pass it to Set.
	Generation() uint64

	// Set stores definitions loaded at generation gen. It reports false and
	// stores nothing if the cache was invalidated since.
	Set(gen uint64, defs []*StoredDefinition) bool

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (invalidated by create, edit, redeploy and delete only).
	TTL time.Duration
}

// DefaultCacheConfig returns the default caching policy
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
