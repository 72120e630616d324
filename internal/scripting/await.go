package scripting

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// RejectionError carries the reason of a rejected promise or a thrown value.
type RejectionError struct {
	Message string
	Stack   string
}

func (e *RejectionError) Error() string { return e.Message }

// Await runs fn on the loop and, when it returns a promise, waits for the
// promise to settle. The fulfilled value is returned exported; a rejection
// becomes a *RejectionError. Exceptions thrown by fn are converted the same
// way. Waiting ends early when ctx is done or the runtime closes.
func (rt *Runtime) Await(ctx context.Context, fn func(vm *goja.Runtime) (goja.Value, error)) (any, error) {
	type settled struct {
		value any
		err   error
	}
	// a promise settles once, so one slot suffices even if nobody receives
	ch := make(chan settled, 1)

	ok := rt.RunOnLoop(func(vm *goja.Runtime) {
		v, err := fn(vm)
		if err != nil {
			ch <- settled{err: asRejection(vm, err)}
			return
		}
		if v == nil {
			ch <- settled{}
			return
		}
		p, isPromise := v.Export().(*goja.Promise)
		if !isPromise {
			ch <- settled{value: v.Export()}
			return
		}
		switch p.State() {
		case goja.PromiseStateFulfilled:
			ch <- settled{value: p.Result().Export()}
			return
		case goja.PromiseStateRejected:
			ch <- settled{err: rejectionFromValue(vm, p.Result())}
			return
		}
		then, ok := goja.AssertFunction(v.ToObject(vm).Get("then"))
		if !ok {
			ch <- settled{err: errors.New("promise has no then method")}
			return
		}
		onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			ch <- settled{value: call.Argument(0).Export()}
			return goja.Undefined()
		})
		onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			ch <- settled{err: rejectionFromValue(vm, call.Argument(0))}
			return goja.Undefined()
		})
		if _, err := then(v, onFulfilled, onRejected); err != nil {
			ch <- settled{err: asRejection(vm, err)}
		}
	})
	if !ok {
		return nil, ErrNotRunning
	}

	select {
	case s := <-ch:
		return s.value, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rt.Done():
		return nil, errors.New("runtime stopped before promise settled")
	}
}

func asRejection(vm *goja.Runtime, err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return rejectionFromValue(vm, ex.Value())
	}
	return err
}

func rejectionFromValue(vm *goja.Runtime, v goja.Value) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &RejectionError{Message: fmt.Sprint(v)}
	}
	re := &RejectionError{Message: v.String()}
	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			re.Stack = stack.String()
		}
	}
	return re
}
