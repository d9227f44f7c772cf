package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/sessionsync/internal/config"
	"github.com/aretw0/sessionsync/pkg/ports"
)

// Factory opens the store described by cfg. r is passed so composite stores
// can open their children.
type Factory func(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error)

// Registry maps store kinds to the factories that open them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for kind.
// If a factory for the same kind exists, it is overwritten.
func (r *Registry) Register(kind string, fn Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = fn
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Open looks up the factory for cfg.Kind and opens the store.
// Returns an error if the kind is not registered.
func (r *Registry) Open(ctx context.Context, cfg config.StoreConfig) (ports.Store, error) {
	r.mu.RLock()
	fn, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("store kind not registered: %s", cfg.Kind)
	}

	store, err := fn(ctx, r, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Kind, err)
	}
	return store, nil
}
