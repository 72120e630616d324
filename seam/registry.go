package seam

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

// ErrNotProvided is returned by Resolve when nothing is registered for the
// requested type.
var ErrNotProvided = errors.New("seam: dependency not provided")

// Registry maps dependency types (usually interfaces) to implementations.
type Registry struct {
	mu        sync.RWMutex
	entries   map[reflect.Type]any
	installed map[reflect.Type]bool
}

// Default is the registry used by code that does not carry its own.
var Default = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[reflect.Type]any),
		installed: make(map[reflect.Type]bool),
	}
}

// Provide registers v as the implementation of T, replacing any previous one.
func Provide[T any](r *Registry, v T) {
	key := reflect.TypeFor[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = v
}

// Resolve returns the implementation registered for T. A nil registered
// for an interface type resolves to nil without error.
func Resolve[T any](r *Registry) (T, error) {
	key := reflect.TypeFor[T]()
	r.mu.RLock()
	v, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrNotProvided, key)
	}
	// a nil interface is stored untyped and comes back as the zero T
	impl, _ := v.(T)
	return impl, nil
}

// MustResolve is Resolve for wiring code where a missing dependency is a
// programming error.
func MustResolve[T any](r *Registry) T {
	v, err := Resolve[T](r)
	if err != nil {
		panic(err)
	}
	return v
}

// Install registers v as the implementation of T for the duration of tb,
// restoring the previous registration (or its absence) on cleanup. Installs
// are exclusive per type.
func Install[T any](tb testing.TB, r *Registry, v T) {
	tb.Helper()
	key := reflect.TypeFor[T]()

	r.mu.Lock()
	if r.installed[key] {
		r.mu.Unlock()
		tb.Fatalf("seam: %v already installed by another test", key)
		return
	}
	prev, hadPrev := r.entries[key]
	r.entries[key] = v
	r.installed[key] = true
	r.mu.Unlock()

	tb.Cleanup(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if hadPrev {
			r.entries[key] = prev
		} else {
			delete(r.entries, key)
		}
		delete(r.installed, key)
	})
}

// Reset removes every registration. Active installs keep their exclusivity
// until their tests clean up.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}
