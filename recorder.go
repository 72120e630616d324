package testproxy

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder is a call-recording test double for a fixed set of methods.
//
// Concrete fakes embed (or hold) a Recorder and call MethodCalled from every
// stub method they implement; tests then inspect CallCount, Args and Calls, or
// block on WhenCalled until the code under test reaches the stub.
//
// M is usually a named string type with one constant per method of the
// interface being faked, which keeps call sites typo-free:
//
//	type keysMethod string
//
//	const (
//		methodStartSetPIN keysMethod = "startSetPIN"
//		methodReset       keysMethod = "reset"
//	)
//
//	rec := testproxy.New(methodStartSetPIN, methodReset)
//
// A Recorder is safe for concurrent use.
type Recorder[M ~string] struct {
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	methods []M
	state   map[M]*methodState
	seq     uint64
}

type methodState struct {
	calls []Call
	// unconsumed is the most recent call not yet observed by WhenCalled.
	unconsumed *Call
	// waiters are futures registered before the next call.
	waiters []*Future
	// response is a one-shot canned response, consumed by Respond.
	response *Response
	mapper   ResponseMapper
}

// New creates a Recorder declaring methods as its surface. Duplicate names
// are ignored, keeping the first occurrence. An empty surface is allowed.
func New[M ~string](methods ...M) *Recorder[M] {
	r := &Recorder[M]{
		id:     uuid.NewString(),
		logger: slog.Default(),
		state:  make(map[M]*methodState, len(methods)),
	}
	for _, m := range methods {
		if _, ok := r.state[m]; ok {
			continue
		}
		r.methods = append(r.methods, m)
		r.state[m] = &methodState{}
	}
	return r
}

// ID returns the recorder's unique identity, used in logs and errors.
func (r *Recorder[M]) ID() string { return r.id }

// SetLogger replaces the logger (slog.Default by default). Calls, resets and
// unknown methods are logged at debug level.
func (r *Recorder[M]) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Methods returns the declared surface in declaration order.
func (r *Recorder[M]) Methods() []M {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.methods)
}

// Declared reports whether m is part of the surface.
func (r *Recorder[M]) Declared(m M) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state[m]
	return ok
}

// RecordCall records a call to m. Waiters registered through WhenCalled are
// resolved with this call; if there are none, the call is kept as the latest
// unconsumed call for a later WhenCalled. An undeclared m returns an
// *UnknownMethodError and records nothing.
func (r *Recorder[M]) RecordCall(m M, args ...any) error {
	r.mu.Lock()
	st, err := r.lookup(m)
	if err != nil {
		logger := r.logger
		r.mu.Unlock()
		logger.Debug("unknown method called", "recorder", r.id, "method", string(m))
		return err
	}

	r.seq++
	c := Call{Method: string(m), Args: slices.Clone(args), Seq: r.seq, Time: time.Now()}
	st.calls = append(st.calls, c)

	if len(st.waiters) > 0 {
		for _, f := range st.waiters {
			f.resolve(c)
		}
		st.waiters = nil
		st.unconsumed = nil
	} else {
		st.unconsumed = &c
	}
	logger := r.logger
	r.mu.Unlock()

	logger.Debug("method called", "recorder", r.id, "method", string(m), "seq", c.Seq, "args", len(args))
	return nil
}

// MethodCalled is RecordCall for stub methods, which usually cannot return an
// error through the interface they implement: an undeclared m panics.
func (r *Recorder[M]) MethodCalled(m M, args ...any) {
	if err := r.RecordCall(m, args...); err != nil {
		panic(err)
	}
}

// WhenCalled returns a future for m.
//
// If m was called since it was last observed by WhenCalled (or since
// construction, Reset or ResetResolver), the future is already resolved with
// the most recent such call, and that call counts as observed. Otherwise the
// future resolves with the next call to m. Futures registered before the
// same call all resolve with it.
//
// Panics if m is undeclared.
func (r *Recorder[M]) WhenCalled(m M) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.mustLookup(m)

	f := newFuture(string(m))
	if st.unconsumed != nil {
		f.resolve(*st.unconsumed)
		st.unconsumed = nil
		return f
	}
	st.waiters = append(st.waiters, f)
	return f
}

// CallCount returns how many times m was called. Panics if m is undeclared.
func (r *Recorder[M]) CallCount(m M) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mustLookup(m).calls)
}

// Args returns one argument capture per call to m, in call order; see
// Call.Arg for the shape of each capture. Panics if m is undeclared.
func (r *Recorder[M]) Args(m M) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.mustLookup(m).calls
	out := make([]any, len(calls))
	for i, c := range calls {
		out[i] = c.Arg()
	}
	return out
}

// Calls returns a copy of the calls recorded for m. Panics if m is
// undeclared.
func (r *Recorder[M]) Calls(m M) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.mustLookup(m).calls)
}

// Reset clears recorded calls, pending waits and canned responses for every
// method. Futures still pending are abandoned: they never resolve.
func (r *Recorder[M]) Reset() {
	r.mu.Lock()
	for _, m := range r.methods {
		r.state[m] = &methodState{}
	}
	r.seq = 0
	logger := r.logger
	r.mu.Unlock()

	logger.Debug("recorder reset", "recorder", r.id)
}

// ResetResolver clears the wait state of m only: the unconsumed call is
// forgotten and pending futures are abandoned. Recorded calls are kept.
func (r *Recorder[M]) ResetResolver(m M) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.mustLookup(m)
	st.unconsumed = nil
	st.waiters = nil
}

// SetResponseFor registers value as the response to the next Respond(m).
// It replaces any response not yet consumed.
func (r *Recorder[M]) SetResponseFor(m M, value any) {
	r.setResponse(m, Response{method: string(m), value: value, ok: true})
}

// SetErrorFor registers err as the response to the next Respond(m).
func (r *Recorder[M]) SetErrorFor(m M, err error) {
	r.setResponse(m, Response{method: string(m), err: err, ok: true})
}

func (r *Recorder[M]) setResponse(m M, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustLookup(m).response = &resp
}

// SetResponseMapperFor registers fn to compute responses for m from the
// arguments passed to Respond. One-shot responses take precedence. A nil fn
// removes the mapper.
func (r *Recorder[M]) SetResponseMapperFor(m M, fn ResponseMapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustLookup(m).mapper = fn
}

// Respond returns the response a stub for m should produce. A one-shot
// response is consumed; otherwise the mapper (if any) is applied to args.
// With neither, the returned Response never settles (see Response.Wait).
// Panics if m is undeclared.
func (r *Recorder[M]) Respond(m M, args ...any) Response {
	r.mu.Lock()
	st, err := r.lookup(m)
	if err != nil {
		r.mu.Unlock()
		panic(err)
	}
	if st.response != nil {
		resp := *st.response
		st.response = nil
		r.mu.Unlock()
		return resp
	}
	mapper := st.mapper
	r.mu.Unlock()

	if mapper == nil {
		return Response{method: string(m)}
	}
	v, err := mapper(args)
	return Response{method: string(m), value: v, err: err, ok: true}
}

func (r *Recorder[M]) lookup(m M) (*methodState, error) {
	st, ok := r.state[m]
	if !ok {
		declared := make([]string, len(r.methods))
		for i, d := range r.methods {
			declared[i] = string(d)
		}
		return nil, &UnknownMethodError{Recorder: r.id, Method: string(m), Declared: declared}
	}
	return st, nil
}

func (r *Recorder[M]) mustLookup(m M) *methodState {
	st, err := r.lookup(m)
	if err != nil {
		panic(err)
	}
	return st
}
