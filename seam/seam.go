// Package seam provides the injection points through which production code
// finds its asynchronous dependencies, and through which tests swap those
// dependencies for doubles.
//
// A Seam holds one dependency; a Registry holds many, keyed by interface
// type. Both support a test-scoped override that restores the previous
// value when the test ends, so no double outlives the test that installed it.
package seam

import (
	"sync"
	"testing"
)

// Seam is a swappable, process-wide handle to one implementation of T.
// Production code calls Instance; tests call Override (or SetInstance in
// setup code that manages its own teardown).
type Seam[T any] struct {
	name       string
	newDefault func() T

	mu         sync.Mutex
	instance   T
	set        bool
	overridden bool
}

// New returns a seam whose production implementation is created lazily by
// newDefault on the first Instance call. newDefault may be nil, in which case
// Instance returns the zero T until something is installed.
func New[T any](name string, newDefault func() T) *Seam[T] {
	return &Seam[T]{name: name, newDefault: newDefault}
}

// Name returns the name given to New.
func (s *Seam[T]) Name() string { return s.name }

// SetInstance replaces the implementation returned by subsequent Instance
// calls.
func (s *Seam[T]) SetInstance(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = v
	s.set = true
}

// Instance returns the installed implementation, creating the production
// default if nothing is installed yet.
func (s *Seam[T]) Instance() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set && s.newDefault != nil {
		s.instance = s.newDefault()
		s.set = true
	}
	return s.instance
}

// Override installs v for the duration of tb. The previous state, including
// "nothing installed", is restored by tb's cleanup. Overrides are exclusive:
// overriding a seam that is already overridden fails tb.
func (s *Seam[T]) Override(tb testing.TB, v T) {
	tb.Helper()
	s.mu.Lock()
	if s.overridden {
		s.mu.Unlock()
		tb.Fatalf("seam %s: already overridden by another test", s.name)
		return
	}
	prev, prevSet := s.instance, s.set
	s.instance = v
	s.set = true
	s.overridden = true
	s.mu.Unlock()

	tb.Cleanup(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.instance = prev
		s.set = prevSet
		s.overridden = false
	})
}

// Overridden reports whether a test override is active.
func (s *Seam[T]) Overridden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overridden
}

// Reset drops the installed implementation, so the next Instance call
// creates a fresh production default. It does not end an active override's
// exclusivity.
func (s *Seam[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.instance = zero
	s.set = false
}
