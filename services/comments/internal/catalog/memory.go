package catalog

import (
	"context"
	"sync"

	"github.com/example/tutorhub/services/comments/internal/store"
)

// InMemoryResolver is a development-only resolver seeded by hand.
type InMemoryResolver struct {
	mu      sync.RWMutex
	targets map[store.Target]struct{}
}

func NewInMemoryResolver() *InMemoryResolver {
	return &InMemoryResolver{targets: make(map[store.Target]struct{})}
}

// Add registers a target as existing.
func (r *InMemoryResolver) Add(t store.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t] = struct{}{}
}

func (r *InMemoryResolver) Resolve(_ context.Context, t store.Target) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.targets[t]; !ok {
		return ErrTargetNotFound
	}
	return nil
}
