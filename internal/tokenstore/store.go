// Package tokenstore defines the key/value contract the login intent broker
// writes to, a registry of named backends, and an in-process implementation.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/email-login/internal/domain"
)

// ErrNotFound is returned when a key is absent or already expired.
var ErrNotFound = errors.New("token store: key not found")

// Store is a key/value store with per-entry expiration.
//
// Implementations must be safe for concurrent use. Take must be atomic: when
// several callers race on the same key, exactly one of them receives the
// value and the rest get ErrNotFound.
type Store interface {
	// Put writes value under key until expiresAt, replacing any previous value.
	Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Get returns the value for key without removing it.
	Get(ctx context.Context, key string) ([]byte, error)

	// Take returns the value for key and deletes it in one step.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Registry maps store names to backends. The empty name resolves to the
// default store.
type Registry struct {
	mu          sync.RWMutex
	stores      map[string]Store
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{
		stores:      make(map[string]Store),
		defaultName: defaultName,
	}
}

// Register adds a backend under name. It panics on an empty name, a nil store
// or a duplicate registration, since all of those are wiring mistakes.
func (r *Registry) Register(name string, store Store) {
	if name == "" {
		panic("tokenstore: register name is missing")
	}
	if store == nil {
		panic("tokenstore: register store is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.stores[name]; found {
		panic("tokenstore: store already registered " + name)
	}
	r.stores[name] = store
}

// Lookup returns the backend registered under name. Unknown names fail with
// an error wrapping domain.ErrUnknownStore.
func (r *Registry) Lookup(name string) (Store, error) {
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	store, ok := r.stores[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup store %q: %w", name, domain.ErrUnknownStore)
	}
	return store, nil
}

// Resolve returns the concrete name that Lookup would use for name.
func (r *Registry) Resolve(name string) string {
	if name == "" {
		return r.defaultName
	}
	return name
}

func (r *Registry) Default() string {
	return r.defaultName
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
