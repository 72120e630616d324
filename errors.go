package testproxy

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMethod is matched (via errors.Is) by every error reporting a
	// method name outside a recorder's declared surface.
	ErrUnknownMethod = errors.New("testproxy: method not declared")

	// ErrNoResponse is returned by Response.Value when no canned response was
	// registered for the method.
	ErrNoResponse = errors.New("testproxy: no response registered")
)

// UnknownMethodError reports a call, wait or inspection against a method that
// the recorder was not constructed with. It usually means the double drifted
// from the interface it mimics, or a typo in a test.
type UnknownMethodError struct {
	Recorder string
	Method   string
	Declared []string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("testproxy: method %q not declared on recorder %s (declared: %v)", e.Method, e.Recorder, e.Declared)
}

func (e *UnknownMethodError) Unwrap() error { return ErrUnknownMethod }
