package jstest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
)

// group is a suite() scope. The root group has an empty name.
type group struct {
	name      string
	parent    *group
	setups    []goja.Value
	teardowns []goja.Value
}

func (g *group) path() []string {
	if g == nil || g.parent == nil {
		return nil
	}
	return append(g.parent.path(), g.name)
}

type testCase struct {
	group *group
	name  string
	body  goja.Value
	only  bool
}

// collector receives suite/test/setup/teardown registrations while a file
// is loaded. It is only touched on the loop goroutine.
type collector struct {
	root    *group
	current *group
	cases   []*testCase
}

func newCollector() *collector {
	root := &group{}
	return &collector{root: root, current: root}
}

func (c *collector) install(vm *goja.Runtime) error {
	fnArg := func(name string, call goja.FunctionCall, i int) goja.Value {
		v := call.Argument(i)
		if _, ok := goja.AssertFunction(v); !ok {
			panic(vm.NewTypeError(fmt.Sprintf("%s: argument %d must be a function", name, i+1)))
		}
		return v
	}

	globals := map[string]func(goja.FunctionCall) goja.Value{
		"suite": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			body, _ := goja.AssertFunction(fnArg("suite", call, 1))
			g := &group{name: name, parent: c.current}
			prev := c.current
			c.current = g
			defer func() { c.current = prev }()
			if _, err := body(goja.Undefined()); err != nil {
				panic(err)
			}
			return goja.Undefined()
		},
		"test": func(call goja.FunctionCall) goja.Value {
			c.cases = append(c.cases, &testCase{
				group: c.current,
				name:  call.Argument(0).String(),
				body:  fnArg("test", call, 1),
			})
			return goja.Undefined()
		},
		"setup": func(call goja.FunctionCall) goja.Value {
			c.current.setups = append(c.current.setups, fnArg("setup", call, 0))
			return goja.Undefined()
		},
		"teardown": func(call goja.FunctionCall) goja.Value {
			c.current.teardowns = append(c.current.teardowns, fnArg("teardown", call, 0))
			return goja.Undefined()
		},
	}
	for name, fn := range globals {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	// test.only narrows the file to the marked cases
	return vm.Get("test").ToObject(vm).Set("only", func(call goja.FunctionCall) goja.Value {
		c.cases = append(c.cases, &testCase{
			group: c.current,
			name:  call.Argument(0).String(),
			body:  fnArg("test.only", call, 1),
			only:  true,
		})
		return goja.Undefined()
	})
}

// selected returns the cases to run, honouring test.only.
func (c *collector) selected() []*testCase {
	var only []*testCase
	for _, tc := range c.cases {
		if tc.only {
			only = append(only, tc)
		}
	}
	if len(only) > 0 {
		return only
	}
	return c.cases
}

// hooks returns the setups (outermost first) and teardowns (innermost first)
// that apply to tc.
func (tc *testCase) hooks() (setups, teardowns []goja.Value) {
	var chain []*group
	for g := tc.group; g != nil; g = g.parent {
		chain = append(chain, g)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		setups = append(setups, chain[i].setups...)
	}
	for _, g := range chain {
		teardowns = append(teardowns, g.teardowns...)
	}
	return setups, teardowns
}

func installAsserts(vm *goja.Runtime) error {
	ctor, ok := goja.AssertConstructor(vm.Get("AssertionError"))
	if !ok {
		return errors.New("AssertionError is not installed")
	}
	fail := func(call goja.FunctionCall, msgIndex int, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if extra := call.Argument(msgIndex); !goja.IsUndefined(extra) {
			msg = extra.String() + ": " + msg
		}
		obj, err := ctor(nil, vm.ToValue(msg))
		if err != nil {
			panic(err)
		}
		panic(obj)
	}

	asserts := map[string]func(goja.FunctionCall) goja.Value{
		"assertEquals": func(call goja.FunctionCall) goja.Value {
			expected, actual := call.Argument(0), call.Argument(1)
			if !expected.StrictEquals(actual) {
				fail(call, 2, "expected %s, got %s", describe(vm, expected), describe(vm, actual))
			}
			return goja.Undefined()
		},
		"assertDeepEquals": func(call goja.FunctionCall) goja.Value {
			expected, actual := call.Argument(0), call.Argument(1)
			if !assert.ObjectsAreEqual(expected.Export(), actual.Export()) {
				fail(call, 2, "expected %s, got %s", describe(vm, expected), describe(vm, actual))
			}
			return goja.Undefined()
		},
		"assertTrue": func(call goja.FunctionCall) goja.Value {
			if v := call.Argument(0); !v.ToBoolean() {
				fail(call, 1, "expected truthy value, got %s", describe(vm, v))
			}
			return goja.Undefined()
		},
		"assertFalse": func(call goja.FunctionCall) goja.Value {
			if v := call.Argument(0); v.ToBoolean() {
				fail(call, 1, "expected falsy value, got %s", describe(vm, v))
			}
			return goja.Undefined()
		},
		// assertThrows(fn, expected?) returns the thrown value. expected is
		// either an error constructor or a substring of the message.
		"assertThrows": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("assertThrows: argument 1 must be a function"))
			}
			_, err := fn(goja.Undefined())
			if err == nil {
				fail(call, 2, "expected function to throw")
			}
			var ex *goja.Exception
			if !errors.As(err, &ex) {
				panic(err)
			}
			thrown := ex.Value()
			switch expected := call.Argument(1); {
			case goja.IsUndefined(expected):
			case isFunction(expected):
				if !vm.InstanceOf(thrown, expected.ToObject(vm)) {
					fail(call, 2, "expected %s to be thrown, got %s", expected.ToObject(vm).Get("name"), describe(vm, thrown))
				}
			default:
				if !strings.Contains(messageOf(vm, thrown), expected.String()) {
					fail(call, 2, "expected error containing %q, got %s", expected.String(), describe(vm, thrown))
				}
			}
			return thrown
		},
	}
	for name, fn := range asserts {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func isFunction(v goja.Value) bool {
	_, ok := goja.AssertFunction(v)
	return ok
}

func messageOf(vm *goja.Runtime, v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			return m.String()
		}
	}
	return v.String()
}

// describe renders v for assertion messages, as JSON where possible.
func describe(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok && !isFunction(v) {
		if errCtor, ok := vm.Get("Error").(*goja.Object); ok && vm.InstanceOf(obj, errCtor) {
			return obj.String()
		}
		stringify, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
		if s, err := stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(s) {
			return s.String()
		}
	}
	if s, ok := v.Export().(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return v.String()
}
