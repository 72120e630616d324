// Package jstest runs browser-style JavaScript test files against the
// testproxy:proxy doubles.
//
// A test file registers cases with suite/test/setup/teardown and asserts with
// assertEquals, assertDeepEquals, assertTrue, assertFalse and assertThrows.
// Test bodies may be async; each case is bounded by Options.Timeout, which is
// how a whenCalled that never resolves turns into a failure.
//
//	const {TestBrowserProxy} = require('testproxy:proxy');
//
//	suite('pin', () => {
//	  let proxy;
//	  setup(() => { proxy = new TestBrowserProxy(['setPIN']); });
//	  test('sets the pin', async () => {
//	    changePIN(proxy, '1234');
//	    assertEquals('1234', await proxy.whenCalled('setPIN'));
//	  });
//	});
package jstest

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/go-testproxy/internal/builtin"
	"github.com/joeycumines/go-testproxy/internal/fixture"
	"github.com/joeycumines/go-testproxy/internal/scripting"
)

//go:embed prelude.js
var prelude string

// DefaultTimeout bounds each test case when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Options configures a Runner.
type Options struct {
	// Timeout bounds each test case, hooks included.
	Timeout time.Duration
	// Fixtures backs `new TestBrowserProxy(names, {fixture: id})`.
	Fixtures *fixture.File
	// Logger receives every record produced while running, including
	// console output. Defaults to discarding.
	Logger *slog.Logger
	// LogTail is how many log records are attached to a failing result.
	LogTail int
}

// Result is the outcome of one test case.
type Result struct {
	File     string
	Suite    string
	Name     string
	Passed   bool
	Err      error
	Duration time.Duration
	// Logs holds the records logged while a failing case ran.
	Logs []scripting.LogEntry
}

// FullName joins the suite path and the test name.
func (r Result) FullName() string {
	if r.Suite == "" {
		return r.Name
	}
	return r.Suite + " > " + r.Name
}

// ErrTimeout is matched by the error of a case that did not settle in time.
var ErrTimeout = errors.New("test timed out")

// Runner executes test files. Every case runs in its own runtime: the file
// is loaded again for each case, so timers, promises and globals left by one
// case never reach the next, even when it timed out.
type Runner struct {
	opts Options
}

// New returns a Runner.
func New(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LogTail <= 0 {
		opts.LogTail = 50
	}
	return &Runner{opts: opts}
}

// RunFiles runs each file in order. An error loading one file is reported
// as a failed result for that file and the remaining files still run.
func (r *Runner) RunFiles(ctx context.Context, paths ...string) []Result {
	var results []Result
	for _, path := range paths {
		res, err := r.RunFile(ctx, path)
		if err != nil {
			res = append(res, Result{File: path, Name: "(load)", Err: err})
		}
		results = append(results, res...)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// RunFile reads and runs one test file.
func (r *Runner) RunFile(ctx context.Context, path string) ([]Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}
	return r.Run(ctx, path, string(src))
}

// Run registers the cases in src and runs them. The returned error covers
// failures to start a runtime or to load src; failing cases are reported
// through the results.
func (r *Runner) Run(ctx context.Context, name, src string) ([]Result, error) {
	sess, err := r.load(ctx, name, src)
	if err != nil {
		return nil, err
	}
	total := len(sess.cases)

	results := make([]Result, 0, total)
	for i := 0; i < total && ctx.Err() == nil; i++ {
		if sess == nil {
			if sess, err = r.load(ctx, name, src); err != nil {
				return results, err
			}
			if len(sess.cases) != total {
				sess.close()
				return results, fmt.Errorf("%s registered %d cases on reload, want %d", name, len(sess.cases), total)
			}
		}

		sess.logs.Clear()
		res := r.runOne(ctx, sess.rt, sess.runCase, sess.cases[i])
		res.File = name
		if !res.Passed {
			res.Logs = sess.logs.Entries()
		}
		sess.logger.Debug("test finished", "test", res.FullName(), "passed", res.Passed, "duration", res.Duration)
		results = append(results, res)

		sess.close()
		sess = nil
	}
	if sess != nil {
		sess.close()
	}
	return results, nil
}

// session is one runtime with a test file loaded into it.
type session struct {
	rt      *scripting.Runtime
	logs    *scripting.RingHandler
	logger  *slog.Logger
	runCase goja.Callable
	cases   []*testCase
}

func (s *session) close() { _ = s.rt.Close() }

func (r *Runner) load(ctx context.Context, name, src string) (*session, error) {
	var next slog.Handler
	if r.opts.Logger != nil {
		next = r.opts.Logger.Handler()
	}
	logs := scripting.NewRingHandler(r.opts.LogTail, slog.LevelDebug, next)
	logger := slog.New(logs).With("file", name)

	registry := require.NewRegistry()
	rt, err := scripting.NewRuntime(ctx, registry, logger)
	if err != nil {
		return nil, err
	}
	sess := &session{rt: rt, logs: logs, logger: logger}
	builtin.Register(registry, rt, logger, r.opts.Fixtures)

	c := newCollector()
	err = rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		v, err := vm.RunString(prelude)
		if err != nil {
			return fmt.Errorf("prelude: %w", err)
		}
		var ok bool
		if sess.runCase, ok = goja.AssertFunction(v); !ok {
			return errors.New("prelude did not return a function")
		}
		if err := installAsserts(vm); err != nil {
			return err
		}
		return c.install(vm)
	})
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("install globals: %w", err)
	}

	if err := rt.LoadScript(name, src); err != nil {
		sess.close()
		return nil, err
	}
	sess.cases = c.selected()
	return sess, nil
}

func (r *Runner) runOne(ctx context.Context, rt *scripting.Runtime, runCase goja.Callable, tc *testCase) Result {
	res := Result{Suite: strings.Join(tc.group.path(), " > "), Name: tc.name}

	caseCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	_, err := rt.Await(caseCtx, func(vm *goja.Runtime) (goja.Value, error) {
		setups, teardowns := tc.hooks()
		return runCase(goja.Undefined(), array(vm, setups), tc.body, array(vm, teardowns))
	})
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Passed = true
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		res.Err = fmt.Errorf("%w after %v", ErrTimeout, r.opts.Timeout)
	default:
		res.Err = err
	}
	return res
}

func array(vm *goja.Runtime, values []goja.Value) goja.Value {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	return vm.NewArray(items...)
}
