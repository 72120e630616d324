// Package proxy provides the Goja module exposing call-recording test
// doubles to JavaScript. It is registered as "testproxy:proxy".
//
// JavaScript API:
//
//	const {TestBrowserProxy, seam} = require('testproxy:proxy');
//
//	class TestFooBrowserProxy extends TestBrowserProxy {
//	  constructor() { super(['fetchData', 'save']); }
//	  fetchData(id) {
//	    this.methodCalled('fetchData', id);
//	    return this.getResultFor('fetchData', id);
//	  }
//	}
//
//	const proxy = new TestFooBrowserProxy();
//	proxy.setResultFor('fetchData', {ok: true});
//	await proxy.whenCalled('fetchData');   // resolves with the argument(s)
//	proxy.getCallCount('fetchData');        // number
//	proxy.getArgs('fetchData');             // array, one entry per call
//	proxy.reset();
//
//	// fixture-backed responses (see the fixture package)
//	new TestBrowserProxy(['startSetPIN'], {fixture: 'securityKeys'});
//
//	// injection seam shared by every require() in the runtime
//	const keys = seam('securityKeys');
//	keys.setInstance(proxy);
//	keys.getInstance();
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"

	"github.com/joeycumines/go-testproxy"
	"github.com/joeycumines/go-testproxy/internal/fixture"
	"github.com/joeycumines/go-testproxy/seam"
)

// ModuleName is the require() name of the module.
const ModuleName = "testproxy:proxy"

// maxMethods bounds the declared surface of one proxy.
const maxMethods = 1 << 12

// Loop is the part of the event loop the module needs: scheduling promise
// settlement back onto the loop goroutine.
type Loop interface {
	RunOnLoop(fn func(*goja.Runtime)) bool
	Done() <-chan struct{}
}

// Options configures the module.
type Options struct {
	Loop     Loop
	Logger   *slog.Logger
	Fixtures *fixture.File
}

// Module is the per-runtime module state.
type Module struct {
	opts Options

	mu      sync.Mutex
	seams   map[string]*seam.Seam[goja.Value]
	proxies []*jsProxy
}

// jsProxy is a recorder plus the fixture it was constructed with, which
// survives resets.
type jsProxy struct {
	rec     *testproxy.Recorder[string]
	fixture *fixture.Proxy
	convert func(any) any
}

func (p *jsProxy) reset() error {
	p.rec.Reset()
	if p.fixture == nil {
		return nil
	}
	return fixture.Apply(p.rec, *p.fixture, p.convert)
}

// New returns module state for one runtime.
func New(opts Options) *Module {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Module{
		opts:  opts,
		seams: make(map[string]*seam.Seam[goja.Value]),
	}
}

// Require is the Goja module loader for testproxy:proxy.
func (m *Module) Require(runtime *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("TestBrowserProxy", m.jsConstructor(runtime))
	_ = exports.Set("seam", m.jsSeam(runtime))
}

// ResetAll resets every proxy created through the module and empties every
// seam, leaving proxies as freshly constructed: fixture responses are kept.
// It must run on the loop goroutine.
func (m *Module) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proxies {
		if err := p.reset(); err != nil {
			m.opts.Logger.Warn("proxy reset failed", "recorder", p.rec.ID(), "error", err)
		}
	}
	for _, s := range m.seams {
		s.Reset()
	}
}

// jsConstructor implements `new TestBrowserProxy(methodNames, options?)`.
// Properties are set on call.This so that JS subclasses keep their own
// prototype methods.
func (m *Module) jsConstructor(runtime *goja.Runtime) func(call goja.ConstructorCall) *goja.Object {
	return func(call goja.ConstructorCall) *goja.Object {
		names, err := methodNames(call.Argument(0))
		if err != nil {
			panic(runtime.NewTypeError(fmt.Sprintf("TestBrowserProxy: %v", err)))
		}

		p := &jsProxy{
			rec:     testproxy.New(names...),
			convert: func(v any) any { return runtime.ToValue(v) },
		}
		p.rec.SetLogger(m.opts.Logger)

		if opts := call.Argument(1); !goja.IsUndefined(opts) && !goja.IsNull(opts) {
			if id := opts.ToObject(runtime).Get("fixture"); id != nil && !goja.IsUndefined(id) {
				f, ok := m.opts.Fixtures.Proxy(id.String())
				if !ok {
					panic(runtime.NewTypeError(fmt.Sprintf("TestBrowserProxy: unknown fixture %q", id.String())))
				}
				if err := fixture.Apply(p.rec, f, p.convert); err != nil {
					panic(runtime.NewGoError(err))
				}
				p.fixture = &f
			}
		}

		m.mu.Lock()
		m.proxies = append(m.proxies, p)
		m.mu.Unlock()

		m.bind(runtime, call.This, p)
		return call.This
	}
}

func methodNames(arg goja.Value) ([]string, error) {
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil, nil
	}
	obj, ok := arg.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, errors.New("method names must be an array of strings")
	}
	n := obj.Get("length").ToInteger()
	if n < 0 || n > maxMethods {
		return nil, fmt.Errorf("cannot declare %d methods (limit %d)", n, maxMethods)
	}
	names := make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		v := obj.Get(fmt.Sprintf("%d", i))
		if v == nil {
			return nil, fmt.Errorf("method name at index %d is missing", i)
		}
		if _, ok := v.Export().(string); !ok {
			return nil, fmt.Errorf("method name at index %d is not a string", i)
		}
		names = append(names, v.String())
	}
	return names, nil
}

func (m *Module) bind(runtime *goja.Runtime, obj *goja.Object, p *jsProxy) {
	rec := p.rec
	declared := func(fn string, call goja.FunctionCall) string {
		name := call.Argument(0).String()
		if !rec.Declared(name) {
			err := &testproxy.UnknownMethodError{Recorder: rec.ID(), Method: name, Declared: rec.Methods()}
			panic(runtime.NewTypeError(fmt.Sprintf("%s: %v", fn, err)))
		}
		return name
	}

	_ = obj.Set("methodCalled", func(call goja.FunctionCall) goja.Value {
		name := declared("methodCalled", call)
		rec.MethodCalled(name, restArgs(call)...)
		return goja.Undefined()
	})

	_ = obj.Set("whenCalled", func(call goja.FunctionCall) goja.Value {
		name := declared("whenCalled", call)
		return m.whenCalled(runtime, rec.WhenCalled(name))
	})

	_ = obj.Set("getCallCount", func(call goja.FunctionCall) goja.Value {
		return runtime.ToValue(rec.CallCount(declared("getCallCount", call)))
	})

	_ = obj.Set("getArgs", func(call goja.FunctionCall) goja.Value {
		captures := rec.Args(declared("getArgs", call))
		values := make([]any, len(captures))
		for i, c := range captures {
			values[i] = toValue(runtime, c)
		}
		return runtime.NewArray(values...)
	})

	_ = obj.Set("getMethods", func(call goja.FunctionCall) goja.Value {
		names := rec.Methods()
		values := make([]any, len(names))
		for i, n := range names {
			values[i] = n
		}
		return runtime.NewArray(values...)
	})

	_ = obj.Set("reset", func(call goja.FunctionCall) goja.Value {
		if err := p.reset(); err != nil {
			panic(runtime.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = obj.Set("resetResolver", func(call goja.FunctionCall) goja.Value {
		rec.ResetResolver(declared("resetResolver", call))
		return goja.Undefined()
	})

	_ = obj.Set("setResultFor", func(call goja.FunctionCall) goja.Value {
		rec.SetResponseFor(declared("setResultFor", call), call.Argument(1))
		return goja.Undefined()
	})

	_ = obj.Set("setResultMapperFor", func(call goja.FunctionCall) goja.Value {
		name := declared("setResultMapperFor", call)
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(runtime.NewTypeError("setResultMapperFor: mapper must be a function"))
		}
		rec.SetResponseMapperFor(name, func(args []any) (any, error) {
			values := make([]goja.Value, len(args))
			for i, a := range args {
				values[i] = toValue(runtime, a)
			}
			v, err := fn(goja.Undefined(), values...)
			if err != nil {
				return nil, err
			}
			return v, nil
		})
		return goja.Undefined()
	})

	// getResultFor(name, ...args) returns a Promise of the canned response.
	// Without one, the promise never settles.
	_ = obj.Set("getResultFor", func(call goja.FunctionCall) goja.Value {
		name := declared("getResultFor", call)
		promise, resolve, reject := runtime.NewPromise()
		resp := rec.Respond(name, restArgs(call)...)
		if resp.Ok() {
			v, err := resp.Value()
			if err != nil {
				reject(errorValue(runtime, err))
			} else {
				resolve(toValue(runtime, v))
			}
		}
		return runtime.ToValue(promise)
	})
}

// whenCalled converts a future into a promise. Resolution always happens on
// the loop goroutine; a future resolved later is settled from a watcher
// goroutine that gives up when the loop stops.
func (m *Module) whenCalled(runtime *goja.Runtime, f *testproxy.Future) goja.Value {
	promise, resolve, _ := runtime.NewPromise()
	if c, ok := f.Call(); ok {
		resolve(toValue(runtime, c.Arg()))
		return runtime.ToValue(promise)
	}
	if m.opts.Loop == nil {
		panic(runtime.NewTypeError("whenCalled: no event loop configured"))
	}
	go func() {
		select {
		case <-f.Done():
		case <-m.opts.Loop.Done():
			return
		}
		c, _ := f.Call()
		m.opts.Loop.RunOnLoop(func(vm *goja.Runtime) {
			resolve(toValue(vm, c.Arg()))
		})
	}()
	return runtime.ToValue(promise)
}

// jsSeam implements `seam(name)`, returning the same seam for the same name.
func (m *Module) jsSeam(runtime *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if goja.IsUndefined(call.Argument(0)) || name == "" {
			panic(runtime.NewTypeError("seam: name must be a non-empty string"))
		}

		m.mu.Lock()
		s, ok := m.seams[name]
		if !ok {
			s = seam.New[goja.Value](name, nil)
			m.seams[name] = s
		}
		m.mu.Unlock()

		obj := runtime.NewObject()
		_ = obj.Set("name", name)
		_ = obj.Set("setInstance", func(call goja.FunctionCall) goja.Value {
			s.SetInstance(call.Argument(0))
			return goja.Undefined()
		})
		_ = obj.Set("getInstance", func(call goja.FunctionCall) goja.Value {
			if v := s.Instance(); v != nil {
				return v
			}
			return goja.Undefined()
		})
		_ = obj.Set("reset", func(call goja.FunctionCall) goja.Value {
			s.Reset()
			return goja.Undefined()
		})
		return obj
	}
}

// restArgs returns the call's arguments after the method name.
func restArgs(call goja.FunctionCall) []any {
	if len(call.Arguments) < 2 {
		return nil
	}
	args := make([]any, len(call.Arguments)-1)
	for i, a := range call.Arguments[1:] {
		args[i] = a
	}
	return args
}

// toValue converts an argument capture or canned value to a JS value.
func toValue(runtime *goja.Runtime, v any) goja.Value {
	switch v := v.(type) {
	case nil:
		return goja.Undefined()
	case goja.Value:
		return v
	case []any:
		values := make([]any, len(v))
		for i, e := range v {
			values[i] = toValue(runtime, e)
		}
		return runtime.NewArray(values...)
	default:
		return runtime.ToValue(v)
	}
}

func errorValue(runtime *goja.Runtime, err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	return runtime.NewGoError(err)
}
