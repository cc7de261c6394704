// Package registry provides keyed singleton management for per-campaign
// pipeline components.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds at most one value per key. GetOrCreate is the only way a
// value comes into existence, so two callers asking for the same key
// always see the same instance.
type Registry[T any] struct {
	mu    sync.Mutex
	items map[string]T
}

func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

// GetOrCreate returns the value for key, invoking factory exactly once per
// key. A factory error leaves the key absent.
func (r *Registry[T]) GetOrCreate(key string, factory func() (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item, ok := r.items[key]; ok {
		return item, nil
	}

	item, err := factory()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to create registry entry %q: %w", key, err)
	}

	r.items[key] = item
	return item, nil
}

// Get returns the value for key, if present.
func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	return item, ok
}

// Remove drops the value for key and reports whether it existed.
func (r *Registry[T]) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.items[key]
	delete(r.items, key)
	return ok
}

// Keys returns the registered keys, sorted.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.items))
	for key := range r.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered values.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
