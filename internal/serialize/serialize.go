// Package serialize implements the bidirectional value marshalling: it
// walks a value graph before it crosses an endpoint and produces a
// JSON-safe structure, replacing non-transferable
// values (functions, promises, errors, dates) with token placeholders or
// shallow shapes, and performs the inverse walk on receipt.
package serialize

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/jshsmth/forgeframe/internal/uid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Func is a callable value that may appear anywhere in a prop bag. Calling
// it through a reconstructed proxy sends a request whose name is the
// proxy's token and awaits the response.
type Func func(args []any) (any, error)

// Future is the Go stand-in for a cross-boundary promise: a one-shot value
// that settles exactly once, from whichever side created it — the side
// that created the original promise is authoritative.
type Future struct {
	mu        sync.Mutex
	settled   bool
	ok        bool
	done      chan struct{}
	value     any
	settleErr error
	onSettle  func(ok bool, value any, settleErr error)
}

// NewFuture returns an unsettled Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve settles the future successfully. Only the first Resolve/Reject
// call has effect.
func (f *Future) Resolve(value any) { f.settle(true, value, nil) }

// Reject settles the future with a failure. Only the first Resolve/Reject
// call has effect.
func (f *Future) Reject(err error) { f.settle(false, nil, err) }

func (f *Future) settle(ok bool, value any, settleErr error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.ok = ok
	f.value, f.settleErr = value, settleErr
	fn := f.onSettle
	close(f.done)
	f.mu.Unlock()

	if fn != nil {
		fn(ok, value, settleErr)
	}
}

// subscribe installs fn to run on settlement. A future that already
// settled invokes fn immediately, so marshalling a settled promise still
// produces its settle notification.
func (f *Future) subscribe(fn func(ok bool, value any, settleErr error)) {
	f.mu.Lock()
	if f.settled {
		ok, value, settleErr := f.ok, f.value, f.settleErr
		f.mu.Unlock()
		fn(ok, value, settleErr)
		return
	}
	f.onSettle = fn
	f.mu.Unlock()
}

// Await blocks until the future settles and returns its outcome.
func (f *Future) Await() (any, error) {
	<-f.done
	return f.value, f.settleErr
}

// Done returns a channel closed when the future settles, for use in select
// statements alongside context cancellation or endpoint disposal.
func (f *Future) Done() <-chan struct{} { return f.done }

// undefinedMarker distinguishes an explicit "undefined" from a JSON null
// when nested inside an object or array: top-level undefined is allowed
// directly; nested undefined needs the wrapper shape.
type undefinedMarker struct{}

// Undefined is the sentinel nested "undefined" value.
var Undefined = undefinedMarker{}

// reconstructedError is what Unmarshal produces for a `{__kind:'error'}`
// shape: a fresh error-shaped value carrying the same fields, reconstructed
// shallowly.
type reconstructedError struct {
	Msg   string
	Name  string
	Stack string
}

func (e *reconstructedError) Error() string { return e.Msg }

// Invoker is how a reconstructed function/promise proxy reaches back across
// the endpoint. It is satisfied by the root package's endpoint bridge
// (which forwards to transport.Endpoint); kept as a narrow interface here
// so this package never imports transport.
type Invoker interface {
	InvokeToken(token string, args []any) (any, error)
	SendSettle(token string, ok bool, value any, settleErr *FrameError) error
}

// FrameError mirrors wire.FrameError without importing the wire package,
// keeping serialize importable standalone (e.g. from tests that only
// exercise marshalling).
type FrameError struct {
	Message string
	Stack   string
	Name    string
}

type proxyKind int

const (
	proxyFunc proxyKind = iota
	proxyPromise
)

type proxyEntry struct {
	kind proxyKind
	fn   Func
	fut  *Future
}

// Serializer holds the per-endpoint proxy table. One Serializer exists
// per Endpoint and is shared by both directions of traffic on that
// endpoint.
type Serializer struct {
	mu    sync.Mutex
	owned map[string]*proxyEntry
	inv   Invoker
}

// New returns a Serializer that calls back through inv to invoke remote
// function proxies and settle remote promise proxies.
func New(inv Invoker) *Serializer {
	return &Serializer{owned: make(map[string]*proxyEntry), inv: inv}
}

// Marshal walks v and returns a JSON-safe structure, registering any
// functions or promises encountered in the local proxy table.
func (s *Serializer) Marshal(v any) (any, error) {
	return s.marshal(v, map[uintptr]bool{})
}

func (s *Serializer) marshal(v any, seen map[uintptr]bool) (any, error) {
	switch tv := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return tv, nil
	case undefinedMarker:
		return map[string]any{"__kind": "undef"}, nil
	case time.Time:
		return map[string]any{"__kind": "date", "iso": tv.UTC().Format(time.RFC3339Nano)}, nil
	case error:
		return s.marshalError(tv), nil
	case Func:
		return s.marshalFunc(tv), nil
	case *Future:
		return s.marshalFuture(tv), nil
	case map[string]any:
		if err := enter(seen, reflect.ValueOf(tv)); err != nil {
			return nil, err
		}
		defer leave(seen, reflect.ValueOf(tv))
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			m, err := s.marshal(e, seen)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	case []any:
		if err := enter(seen, reflect.ValueOf(tv)); err != nil {
			return nil, err
		}
		defer leave(seen, reflect.ValueOf(tv))
		out := make([]any, len(tv))
		for i, e := range tv {
			m, err := s.marshal(e, seen)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("serialize: unsupported value of type %T", v)
	}
}

func enter(seen map[uintptr]bool, rv reflect.Value) error {
	if rv.Kind() != reflect.Map && rv.Kind() != reflect.Slice {
		return nil
	}
	if rv.IsNil() {
		return nil
	}
	ptr := rv.Pointer()
	if seen[ptr] {
		return fmt.Errorf("serialize: cyclic structure detected; ForgeFrame does not support cyclic graphs")
	}
	seen[ptr] = true
	return nil
}

func leave(seen map[uintptr]bool, rv reflect.Value) {
	if rv.Kind() != reflect.Map && rv.Kind() != reflect.Slice {
		return
	}
	if rv.IsNil() {
		return
	}
	delete(seen, rv.Pointer())
}

func (s *Serializer) marshalError(err error) map[string]any {
	msg := err.Error()
	name := "Error"
	stack := ""
	type named interface{ Name() string }
	if n, ok := err.(named); ok {
		name = n.Name()
	}
	if st := stackTrace(err); st != "" {
		stack = st
	}
	return map[string]any{"__kind": "error", "message": msg, "name": name, "stack": stack}
}

// stackTrace extracts a printable stack from an error wrapped with
// github.com/pkg/errors, if any. Only error values marshalled through the
// Serializer get a `stack` this way; other errors leave it empty.
func stackTrace(err error) string {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	if st, ok := err.(stackTracer); ok {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

func (s *Serializer) marshalFunc(fn Func) map[string]any {
	token := uid.NewToken()
	s.mu.Lock()
	s.owned[token] = &proxyEntry{kind: proxyFunc, fn: fn}
	s.mu.Unlock()
	return map[string]any{"__kind": "fn", "token": token}
}

func (s *Serializer) marshalFuture(fut *Future) map[string]any {
	token := uid.NewToken()
	s.mu.Lock()
	s.owned[token] = &proxyEntry{kind: proxyPromise, fut: fut}
	s.mu.Unlock()

	fut.subscribe(func(ok bool, value any, settleErr error) {
		var fe *FrameError
		var payload any
		if ok {
			marshalled, err := s.Marshal(value)
			if err != nil {
				ok, fe, payload = false, &FrameError{Message: err.Error()}, nil
			} else {
				payload = marshalled
			}
		} else {
			fe = &FrameError{Message: settleErr.Error()}
		}
		_ = s.inv.SendSettle(token, ok, payload, fe)
	})
	return map[string]any{"__kind": "promise", "token": token}
}

// Unmarshal is the inverse of Marshal: it reconstructs live proxies for
// tokenised functions/promises and shallow values for errors/dates.
func (s *Serializer) Unmarshal(v any) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		if kind, ok := tv["__kind"].(string); ok {
			return s.unmarshalTagged(kind, tv)
		}
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			u, err := s.Unmarshal(e)
			if err != nil {
				return nil, err
			}
			out[k] = u
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			u, err := s.Unmarshal(e)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	default:
		return tv, nil
	}
}

func (s *Serializer) unmarshalTagged(kind string, m map[string]any) (any, error) {
	switch kind {
	case "undef":
		return Undefined, nil
	case "date":
		iso, _ := m["iso"].(string)
		t, err := time.Parse(time.RFC3339Nano, iso)
		if err != nil {
			return nil, fmt.Errorf("serialize: invalid date payload: %w", err)
		}
		return t, nil
	case "error":
		msg, _ := m["message"].(string)
		name, _ := m["name"].(string)
		stack, _ := m["stack"].(string)
		return &reconstructedError{Msg: msg, Name: name, Stack: stack}, nil
	case "fn":
		token, _ := m["token"].(string)
		return s.proxyFunc(token), nil
	case "promise":
		token, _ := m["token"].(string)
		return s.proxyPromise(token), nil
	default:
		return nil, fmt.Errorf("serialize: unknown __kind %q", kind)
	}
}

// proxyFunc returns a callable that invokes the peer's function by token.
// Calling the same token twice issues two independent requests; identity is
// never restored across a round trip — token equality implies identity on
// one side only.
func (s *Serializer) proxyFunc(token string) Func {
	return func(args []any) (any, error) {
		marshalledArgs := make([]any, len(args))
		for i, a := range args {
			m, err := s.Marshal(a)
			if err != nil {
				return nil, err
			}
			marshalledArgs[i] = m
		}
		result, err := s.inv.InvokeToken(token, marshalledArgs)
		if err != nil {
			return nil, err
		}
		return s.Unmarshal(result)
	}
}

// proxyPromise returns a Future that settles when the far side's `settle`
// request for token arrives (wired through SettleToken by the endpoint).
func (s *Serializer) proxyPromise(token string) *Future {
	fut := NewFuture()
	s.mu.Lock()
	s.owned[token] = &proxyEntry{kind: proxyPromise, fut: fut}
	s.mu.Unlock()
	return fut
}

// SettleToken is invoked by the endpoint when an inbound `settle` request
// arrives for a promise proxy this side reconstructed.
func (s *Serializer) SettleToken(token string, ok bool, value any, settleErr error) error {
	s.mu.Lock()
	entry, found := s.owned[token]
	s.mu.Unlock()
	if !found || entry.kind != proxyPromise {
		return fmt.Errorf("serialize: settle for unknown promise token %q", token)
	}
	unmarshalled, err := s.Unmarshal(value)
	if err != nil {
		return err
	}
	if ok {
		entry.fut.Resolve(unmarshalled)
	} else {
		entry.fut.Reject(settleErr)
	}
	return nil
}

// InvokeLocal is called by the endpoint when an inbound request's name
// matches a function token owned locally: functions tokenised from the
// near side are invokable from the far side by sending a request whose
// name is the token.
func (s *Serializer) InvokeLocal(token string, args []any) (any, bool, error) {
	s.mu.Lock()
	entry, found := s.owned[token]
	s.mu.Unlock()
	if !found || entry.kind != proxyFunc {
		return nil, false, nil
	}
	unmarshalledArgs := make([]any, len(args))
	for i, a := range args {
		u, err := s.Unmarshal(a)
		if err != nil {
			return nil, true, err
		}
		unmarshalledArgs[i] = u
	}
	result, err := entry.fn(unmarshalledArgs)
	return result, true, err
}

// Release removes a proxy entry, whether in response to an explicit
// `release` message from the peer or during Dispose.
func (s *Serializer) Release(token string) {
	s.mu.Lock()
	delete(s.owned, token)
	s.mu.Unlock()
}

// Dispose purges every owned proxy entry when the owning endpoint is
// disposed.
func (s *Serializer) Dispose() {
	s.mu.Lock()
	s.owned = make(map[string]*proxyEntry)
	s.mu.Unlock()
}

// MarshalJSON / json helpers exposed for callers that need to put an
// already-marshalled value on the wire without re-walking it.
func MarshalJSON(v any) ([]byte, error) { return json.Marshal(v) }
func UnmarshalJSON(data []byte, v any) error { return json.Unmarshal(data, v) }
