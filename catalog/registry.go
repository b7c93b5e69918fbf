package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotReloadable is returned by Reload on a registry without a source.
var ErrNotReloadable = errors.New("catalog registry has no source to reload from")

// Source produces a fresh catalog, e.g. a *Loader.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// Registry holds the current catalog. Readers never block; Reload builds a
// new catalog and swaps it in atomically, so in-flight derivations keep the
// snapshot they started with.
type Registry struct {
	source  Source
	current atomic.Pointer[Catalog]
	mu      sync.Mutex // serializes reloads
}

// NewRegistry loads the initial catalog from source.
func NewRegistry(ctx context.Context, source Source) (*Registry, error) {
	r := &Registry{source: source}
	if _, err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Static returns a registry serving c that cannot be reloaded.
func Static(c *Catalog) *Registry {
	r := &Registry{}
	r.current.Store(c)
	return r
}

// Current returns the catalog snapshot in effect.
func (r *Registry) Current() *Catalog {
	if c := r.current.Load(); c != nil {
		return c
	}
	return New()
}

// Reload replaces the current catalog with a freshly loaded one. On failure
// the current catalog is kept.
func (r *Registry) Reload(ctx context.Context) (*Catalog, error) {
	if r.source == nil {
		return nil, ErrNotReloadable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	r.current.Store(next)
	return next, nil
}
