package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jshsmth/forgeframe/internal/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HandlerFunc answers an inbound request. It may return a value, return an
// error, or panic (recovered and converted to an error).
type HandlerFunc func(data any) (any, error)

// DropReason names why an inbound frame never reached a handler. These are
// never surfaced to user code but are counted for diagnostics.
type DropReason string

const (
	DropOriginMismatch DropReason = "origin_mismatch"
	DropDecodeFailure  DropReason = "decode_failure"
	DropUnknownRequest DropReason = "unknown_request"
	DropUIDMismatch    DropReason = "uid_mismatch"
)

// Options configures a new Endpoint.
type Options struct {
	// LocalUID is embedded as Source.UID on every outbound frame.
	LocalUID string
	// LocalDomain is embedded as Source.Domain on every outbound frame.
	LocalDomain string
	// DefaultTimeout applies to SendRequest calls that don't override it.
	// Defaults to 10s.
	DefaultTimeout time.Duration
	// OnDrop is called for every silently-dropped frame, for diagnostics.
	OnDrop func(reason DropReason, f wire.Frame)
	// Fallback answers inbound requests whose name matches no registered
	// handler, instead of the default silent drop. The serializer bridge
	// (root package) uses this to route requests named by a dynamically
	// minted function-proxy token to Serializer.InvokeLocal, since those
	// names can't be known ahead of time to RegisterHandler individually
	// functions tokenised from the near side are invokable this way by
	// sending a request whose name is the token.
	Fallback func(name string, data any) (any, error)
}

// Endpoint is a bidirectional message channel bound to one peer, adding
// send retry until acknowledged, per-message timeout, and origin
// filtering.
type Endpoint struct {
	peer           Peer
	localUID       string
	localDomain    string
	defaultTimeout time.Duration
	onDrop         func(DropReason, wire.Frame)
	fallback       func(name string, data any) (any, error)

	corr *correlator

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	peerUID  string
	closed   bool

	inboundMu   sync.Mutex
	inboundSeen map[string]bool

	startOnce sync.Once
	doneCh    chan struct{}
}

// New constructs an Endpoint bound to peer. The message pump does not run
// until Start is called, so callers can finish registering handlers
// without racing the peer's first frames.
func New(peer Peer, opts Options) *Endpoint {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &Endpoint{
		peer:           peer,
		localUID:       opts.LocalUID,
		localDomain:    opts.LocalDomain,
		defaultTimeout: timeout,
		onDrop:         opts.OnDrop,
		fallback:       opts.Fallback,
		corr:           newCorrelator(),
		handlers:       make(map[string]HandlerFunc),
		inboundSeen:    make(map[string]bool),
		doneCh:         make(chan struct{}),
	}
	return e
}

// Start launches the message pump. Safe to call more than once; only the
// first call has effect. Frames the peer buffered before Start are
// delivered once it runs.
func (e *Endpoint) Start() {
	e.startOnce.Do(func() { go e.pump() })
}

func (e *Endpoint) pump() {
	for {
		select {
		case msg, ok := <-e.peer.Messages():
			if !ok {
				return
			}
			e.OnMessage(msg.Raw, msg.Origin)
		case <-e.doneCh:
			return
		}
	}
}

// Done returns a channel closed once Dispose has run.
func (e *Endpoint) Done() <-chan struct{} { return e.doneCh }

type requestResult struct {
	data any
	err  error
}

// SendRequest sends a request frame and blocks until a response arrives,
// the per-request timeout fires, ctx is cancelled, or the endpoint is
// disposed. data must already be JSON-safe (callers that
// need function/promise tokenisation run it through serialize.Serializer
// first). timeout <= 0 uses the endpoint's configured default.
func (e *Endpoint) SendRequest(ctx context.Context, name string, data any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEndpointClosed
	}

	id := e.corr.nextRequestID()
	raw, err := e.encodeFrame(id, wire.TypeRequest, name, data, nil)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan requestResult, 1)
	pr := &pendingRequest{
		id:      id,
		name:    name,
		resolve: func(d any) { resultCh <- requestResult{data: d} },
		reject:  func(err error) { resultCh <- requestResult{err: err} },
	}
	// The retry timer exists before the first post so an ack arriving in
	// the same tick always finds a timer to cancel.
	pr.retryTimer = newRetryTimer(func() {
		_ = e.peer.Post(raw)
	})
	e.corr.track(pr)
	defer pr.retryTimer.Stop()

	if err := e.peer.Post(raw); err != nil {
		e.corr.remove(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.data, res.err
	case <-timer.C:
		if e.corr.reject(id, ErrTimeout) {
			return nil, ErrTimeout
		}
		// A terminal result landed in the same instant the timer fired.
		res := <-resultCh
		return res.data, res.err
	case <-ctx.Done():
		e.corr.reject(id, ctx.Err())
		return nil, ctx.Err()
	case <-e.doneCh:
		return nil, ErrEndpointClosed
	}
}

// RegisterHandler installs fn to answer inbound requests named name,
// returning an unregister function that releases it; release also
// happens automatically via Dispose.
func (e *Endpoint) RegisterHandler(name string, fn HandlerFunc) (unregister func()) {
	e.mu.Lock()
	if e.handlers != nil {
		e.handlers[name] = fn
	}
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		if e.handlers != nil {
			delete(e.handlers, name)
		}
		e.mu.Unlock()
	}
}

// OnMessage is the entry point for raw transport events. It is exported
// so alternative Peer implementations (e.g. one driven by
// an external event loop rather than a Messages() channel) can feed frames
// in directly, but the default pump goroutine calls it for you.
func (e *Endpoint) OnMessage(raw, origin string) {
	f, ok := wire.Decode(raw)
	if !ok {
		e.drop(DropDecodeFailure, wire.Frame{})
		return
	}

	if expected := e.peer.Origin(); expected != "*" && origin != expected {
		e.drop(DropOriginMismatch, f)
		return
	}

	// The first valid frame's source uid is the implicit handshake that
	// pins the peer; every later frame must carry the same uid.
	if f.Source.UID != "" {
		e.mu.Lock()
		switch e.peerUID {
		case "":
			e.peerUID = f.Source.UID
		case f.Source.UID:
		default:
			e.mu.Unlock()
			e.drop(DropUIDMismatch, f)
			return
		}
		e.mu.Unlock()
	}

	switch f.Type {
	case wire.TypeRequest:
		e.handleRequest(f)
	case wire.TypeResponse:
		e.handleResponse(f)
	case wire.TypeAck:
		e.corr.markAcked(f.ID)
	default:
		e.drop(DropDecodeFailure, f)
	}
}

func (e *Endpoint) handleRequest(f wire.Frame) {
	e.inboundMu.Lock()
	dup := e.inboundSeen[f.ID]
	e.inboundSeen[f.ID] = true
	e.inboundMu.Unlock()

	e.sendAck(f.ID)
	if dup {
		// A duplicate request re-emits the ack but never re-invokes the
		// handler.
		return
	}

	go e.dispatchHandler(f)
}

func (e *Endpoint) dispatchHandler(f wire.Frame) {
	e.mu.Lock()
	h, ok := e.handlers[f.Name]
	fallback := e.fallback
	e.mu.Unlock()

	var data any
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			e.drop(DropDecodeFailure, f)
			return
		}
	}

	if !ok {
		if fallback == nil {
			e.drop(DropUnknownRequest, f)
			return
		}
		result, err := e.safeInvokeFallback(fallback, f.Name, data)
		e.sendResponse(f.ID, result, err)
		return
	}

	result, err := e.safeInvoke(h, data)
	e.sendResponse(f.ID, result, err)
}

func (e *Endpoint) safeInvokeFallback(fallback func(name string, data any) (any, error), name string, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("forgeframe: handler panic: %v", r)
		}
	}()
	return fallback(name, data)
}

func (e *Endpoint) safeInvoke(h HandlerFunc, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("forgeframe: handler panic: %v", r)
		}
	}()
	return h(data)
}

func (e *Endpoint) handleResponse(f wire.Frame) {
	if f.Error != nil {
		e.corr.reject(f.ID, &HandlerFailure{Message: f.Error.Message, Name: f.Error.Name, Stack: f.Error.Stack})
		return
	}
	var data any
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			e.drop(DropDecodeFailure, f)
			return
		}
	}
	e.corr.resolve(f.ID, data)
}

func (e *Endpoint) sendAck(id string) {
	raw, err := e.encodeFrame(id, wire.TypeAck, "ack", nil, nil)
	if err != nil {
		return
	}
	_ = e.peer.Post(raw)
}

func (e *Endpoint) sendResponse(id string, result any, handlerErr error) {
	var frameErr *wire.FrameError
	var data any
	if handlerErr != nil {
		frameErr = &wire.FrameError{Message: handlerErr.Error()}
		if hf, ok := handlerErr.(*HandlerFailure); ok {
			frameErr.Name = hf.Name
			frameErr.Stack = hf.Stack
		}
	} else {
		data = result
	}
	raw, err := e.encodeFrame(id, wire.TypeResponse, "response", data, frameErr)
	if err != nil {
		return
	}
	_ = e.peer.Post(raw)
}

func (e *Endpoint) encodeFrame(id string, typ wire.Type, name string, data any, frameErr *wire.FrameError) (string, error) {
	var raw jsoniter.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		raw = b
	}
	f := wire.Frame{
		ID:     id,
		Type:   typ,
		Name:   name,
		Data:   raw,
		Source: wire.Source{UID: e.localUID, Domain: e.localDomain},
		Error:  frameErr,
	}
	return wire.Encode(f)
}

func (e *Endpoint) drop(reason DropReason, f wire.Frame) {
	if e.onDrop != nil {
		e.onDrop(reason, f)
	}
}

// PendingCount reports the number of outstanding sent requests awaiting a
// response, for tests asserting the pending set's bounded-growth
// invariant.
func (e *Endpoint) PendingCount() int { return e.corr.size() }

// PeerUID returns the uid the peer's first valid frame established, or ""
// before any frame has arrived.
func (e *Endpoint) PeerUID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerUID
}

// Dispose rejects every pending record with EndpointClosedError, clears
// handlers, and closes the underlying peer.
func (e *Endpoint) Dispose() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.handlers = nil
	e.mu.Unlock()

	close(e.doneCh)
	e.corr.drainAll(ErrEndpointClosed)
	return e.peer.Close()
}
