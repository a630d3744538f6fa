package transport

// TimeoutError means a sent request produced no response within its
// configured timeout, whether or not it was acked.
type TimeoutError struct{}

func (*TimeoutError) Error() string { return "forgeframe: request timed out" }

// ErrTimeout is returned by SendRequest when the per-request timer fires
// before a response arrives.
var ErrTimeout error = &TimeoutError{}

// EndpointClosedError means the endpoint was disposed while a request was
// outstanding, or a new request was attempted after disposal.
type EndpointClosedError struct{}

func (*EndpointClosedError) Error() string { return "forgeframe: endpoint closed" }

// ErrEndpointClosed is returned by SendRequest in the situations described
// above; Dispose itself returns only the peer's Close error.
var ErrEndpointClosed error = &EndpointClosedError{}

// HandlerFailure carries a peer-side handler error back to the caller:
// errors inside handlers are caught and reported to the remote caller via
// the error field of a response.
type HandlerFailure struct {
	Message string
	Name    string
	Stack   string
}

func (e *HandlerFailure) Error() string { return e.Message }
