// Package builtin registers the native modules test scripts can require.
package builtin

import (
	"log/slog"

	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/go-testproxy/internal/builtin/proxy"
	"github.com/joeycumines/go-testproxy/internal/fixture"
)

// Modules holds the stateful modules created by Register.
type Modules struct {
	// Proxy can reset every double when one runtime serves several tests.
	Proxy *proxy.Module
}

// Register registers the native modules on registry. Modules schedule their
// callbacks through loop; fixtures may be nil.
func Register(registry *require.Registry, loop proxy.Loop, logger *slog.Logger, fixtures *fixture.File) Modules {
	mod := proxy.New(proxy.Options{Loop: loop, Logger: logger, Fixtures: fixtures})
	registry.RegisterNativeModule(proxy.ModuleName, mod.Require)
	return Modules{Proxy: mod}
}
