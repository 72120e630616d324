package testproxy

import (
	"context"
	"fmt"
)

// Response is what a stub should hand back to the code under test, as
// returned by Recorder.Respond. A zero Response has nothing registered and
// behaves like a promise that never settles.
type Response struct {
	method string
	value  any
	err    error
	ok     bool
}

// Ok reports whether a value or error was registered.
func (r Response) Ok() bool { return r.ok }

// Value returns the canned value or error without blocking, or
// ErrNoResponse when nothing was registered.
func (r Response) Value() (any, error) {
	if !r.ok {
		return nil, fmt.Errorf("%w for %s", ErrNoResponse, r.method)
	}
	return r.value, r.err
}

// Wait returns the canned value or error. When nothing was registered it
// blocks until ctx is done, so that a test which forgot to stub a dependency
// hangs visibly instead of proceeding with a zero value.
func (r Response) Wait(ctx context.Context) (any, error) {
	if !r.ok {
		<-ctx.Done()
		return nil, fmt.Errorf("no response for %s: %w", r.method, ctx.Err())
	}
	return r.value, r.err
}

// Await is the typed form of Response.Wait. A nil canned value yields the
// zero T.
func Await[T any](ctx context.Context, r Response) (T, error) {
	var zero T
	v, err := r.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("testproxy: response for %s is %T, want %T", r.method, v, zero)
	}
	return t, nil
}

// ResponseMapper computes a response from the arguments of the call being
// answered.
type ResponseMapper func(args []any) (any, error)
