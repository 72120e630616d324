// Package scripting hosts the goja runtime test scripts run on. Every
// callback runs on one event loop goroutine, and console output goes to slog.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// Runtime is a goja runtime owned by one event loop goroutine.
//
// goja.Runtime is not goroutine-safe: every access goes through RunOnLoop or
// RunOnLoopSync, and promise resolve/reject functions are only called on the
// loop.
type Runtime struct {
	loop *eventloop.EventLoop

	// timeout bounds RunOnLoopSync; 0 disables it.
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	// unwatch detaches the parent context passed to NewRuntime
	unwatch func() bool
}

// DefaultSyncTimeout is the maximum duration to wait for RunOnLoopSync operations.
const DefaultSyncTimeout = 5 * time.Second

// ErrNotRunning is returned when work is submitted to a closed runtime.
var ErrNotRunning = errors.New("event loop not running")

// NewRuntime starts a runtime. Native modules must be registered on registry
// (a fresh one is created when nil) before scripts require them. A global
// console object routes to logger.
//
// Cancelling ctx closes the runtime.
func NewRuntime(ctx context.Context, registry *require.Registry, logger *slog.Logger) (*Runtime, error) {
	if registry == nil {
		registry = require.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}

	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(false),
	)

	// independent of the parent so Close can always cancel it
	childCtx, cancel := context.WithCancel(context.Background())

	rt := &Runtime{
		loop:    loop,
		ctx:     childCtx,
		cancel:  cancel,
		timeout: DefaultSyncTimeout,
	}

	loop.Start()

	errCh := make(chan error, 1)
	ok := loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- installConsole(vm, logger)
	})
	if !ok {
		cancel()
		return nil, fmt.Errorf("failed to initialize: %w", ErrNotRunning)
	}
	if err := <-errCh; err != nil {
		cancel()
		loop.Stop()
		return nil, fmt.Errorf("failed to initialize runtime: %w", err)
	}

	if ctx.Done() != nil {
		unwatch := context.AfterFunc(ctx, func() {
			_ = rt.Close()
		})
		rt.mu.Lock()
		rt.unwatch = unwatch
		rt.mu.Unlock()
	}

	return rt, nil
}

// Close stops the event loop. Pending jobs are dropped. Safe to call more
// than once.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return nil
	}
	rt.stopped = true
	unwatch := rt.unwatch
	rt.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}

	// cancel first, so goroutines parked on Done unblock before the loop stops
	rt.cancel()
	rt.loop.Stop()
	return nil
}

// Done is closed once the runtime is closed.
func (rt *Runtime) Done() <-chan struct{} { return rt.ctx.Done() }

// SetTimeout sets the timeout for RunOnLoopSync operations. 0 disables it.
func (rt *Runtime) SetTimeout(timeout time.Duration) {
	rt.mu.Lock()
	rt.timeout = timeout
	rt.mu.Unlock()
}

// RunOnLoop schedules fn on the loop goroutine, reporting false if the
// runtime is closed. The *goja.Runtime must not escape fn.
func (rt *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	rt.mu.RLock()
	if rt.stopped {
		rt.mu.RUnlock()
		return false
	}
	rt.mu.RUnlock()
	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync runs fn on the loop and waits for it. It must not be called
// from the loop goroutine itself.
func (rt *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	rt.mu.RLock()
	if rt.stopped {
		rt.mu.RUnlock()
		return ErrNotRunning
	}
	timeout := rt.timeout
	rt.mu.RUnlock()

	errCh := make(chan error, 1)
	if !rt.loop.RunOnLoop(func(vm *goja.Runtime) { errCh <- fn(vm) }) {
		return ErrNotRunning
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case err := <-errCh:
		return err
	case <-rt.Done():
		return errors.New("runtime stopped before completion")
	case <-timer:
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// LoadScript compiles and runs code on the loop.
func (rt *Runtime) LoadScript(name, code string) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, code, true)
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("failed to run %s: %w", name, err)
		}
		return nil
	})
}

func installConsole(vm *goja.Runtime, logger *slog.Logger) error {
	console := vm.NewObject()
	logAt := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			logger.Log(context.Background(), level, strings.Join(parts, " "), "source", "console")
			return goja.Undefined()
		}
	}
	for name, level := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		if err := console.Set(name, logAt(level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}
