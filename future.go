package testproxy

import (
	"context"
	"fmt"
	"time"
)

// Call is one recorded invocation of a stubbed method.
type Call struct {
	// Method is the declared method name.
	Method string
	// Args holds the arguments in the order they were passed.
	Args []any
	// Seq is the 1-based position of the call across all methods of the
	// recorder, so tests can assert relative order between methods.
	Seq uint64
	// Time is when the call was recorded.
	Time time.Time
}

// Arg returns the argument capture for the call: nil for no arguments, the
// argument itself when exactly one was passed, and the full []any otherwise.
func (c Call) Arg() any {
	switch len(c.Args) {
	case 0:
		return nil
	case 1:
		return c.Args[0]
	default:
		args := make([]any, len(c.Args))
		copy(args, c.Args)
		return args
	}
}

// Future resolves with the call that satisfied a WhenCalled registration.
// A Future never fails by itself: if the method is never called, it stays
// pending, and only the caller's context bounds the wait.
type Future struct {
	method string
	done   chan struct{}
	call   Call
}

func newFuture(method string) *Future {
	return &Future{method: method, done: make(chan struct{})}
}

// resolve must be called at most once, with the owning recorder locked.
func (f *Future) resolve(c Call) {
	f.call = c
	close(f.done)
}

// Method returns the method the future waits on.
func (f *Future) Method() string { return f.method }

// Done returns a channel closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Call returns the resolving call without blocking. The bool is false while
// the future is pending.
func (f *Future) Call() (Call, bool) {
	select {
	case <-f.done:
		return f.call, true
	default:
		return Call{}, false
	}
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (Call, error) {
	select {
	case <-f.done:
		return f.call, nil
	case <-ctx.Done():
		return Call{}, fmt.Errorf("waiting for %s: %w", f.method, ctx.Err())
	}
}

// WaitFor waits on f and converts the call's argument capture (see Call.Arg)
// to T.
func WaitFor[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	c, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	arg := c.Arg()
	if arg == nil {
		return zero, nil
	}
	v, ok := arg.(T)
	if !ok {
		return zero, fmt.Errorf("testproxy: %s called with %T, want %T", f.method, arg, zero)
	}
	return v, nil
}
