// Package testutil provides testing utilities for go-testproxy.
package testutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/go-testproxy/internal/builtin"
	"github.com/joeycumines/go-testproxy/internal/builtin/proxy"
	"github.com/joeycumines/go-testproxy/internal/fixture"
	"github.com/joeycumines/go-testproxy/internal/scripting"
)

// TestRuntime is a running script runtime with the testproxy:proxy module
// registered, for tests exercising JavaScript doubles.
type TestRuntime struct {
	*scripting.Runtime
	Module *proxy.Module
	Logs   *scripting.RingHandler
}

// NewTestRuntime starts a runtime that is closed in t.Cleanup. Every log
// record, including console output, is retained in Logs.
func NewTestRuntime(t testing.TB, fixtures *fixture.File) *TestRuntime {
	t.Helper()

	logs := scripting.NewRingHandler(0, slog.LevelDebug, nil)
	logger := slog.New(logs)

	registry := require.NewRegistry()
	rt, err := scripting.NewRuntime(context.Background(), registry, logger)
	if err != nil {
		t.Fatalf("failed to start runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	mods := builtin.Register(registry, rt, logger, fixtures)
	return &TestRuntime{Runtime: rt, Module: mods.Proxy, Logs: logs}
}

// ResetProxies resets every proxy and seam created in the runtime, as if the
// script had just constructed them. Use it between subtests sharing rt.
func (rt *TestRuntime) ResetProxies(t testing.TB) {
	t.Helper()
	if err := rt.RunOnLoopSync(func(*goja.Runtime) error {
		rt.Module.ResetAll()
		return nil
	}); err != nil {
		t.Fatalf("failed to reset proxies: %v", err)
	}
}
