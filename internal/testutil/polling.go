package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/joeycumines/go-testproxy"
)

// WaitForState polls get every interval until ok accepts its result,
// returning that result. It fails once timeout elapses or ctx is done,
// returning the zero value.
func WaitForState[T any](ctx context.Context, get func() T, ok func(T) bool, timeout, interval time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var zero T
	for {
		if v := get(); ok(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return zero, fmt.Errorf("state not reached within %v: %w", timeout, ctx.Err())
			}
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForCallCount waits until m has been called at least n times. Use it
// for doubles driven by another goroutine, where a Future would race the
// calls being counted.
func WaitForCallCount[M ~string](ctx context.Context, rec *testproxy.Recorder[M], m M, n int, timeout time.Duration) error {
	_, err := WaitForState(ctx, func() int { return rec.CallCount(m) },
		func(got int) bool { return got >= n },
		timeout, PollingInterval)
	if err != nil {
		return fmt.Errorf("%s called %d times, want %d: %w", m, rec.CallCount(m), n, err)
	}
	return nil
}

// AwaitCall waits for f, failing t after FutureTimeout.
func AwaitCall(t testing.TB, f *testproxy.Future) testproxy.Call {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), FutureTimeout)
	defer cancel()
	c, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("%s was not called: %v", f.Method(), err)
	}
	return c
}
