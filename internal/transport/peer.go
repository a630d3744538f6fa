// Package transport implements the Endpoint and Correlator components: a
// bidirectional message channel bound to one peer window, with send retry
// until acknowledged, per-message timeout, origin filtering,
// request/response correlation, and handler dispatch.
package transport

// InboundMessage is a raw transport event, the Go analogue of a
// postMessage MessageEvent: a string payload plus the origin it arrived
// from.
type InboundMessage struct {
	Raw    string
	Origin string
}

// Peer is the "Frame surface" boundary kept external to the core: it
// creates/destroys the embedded view and exposes its message endpoint to
// the broker. Two reference implementations ship in this
// package: NewDuplexPair (iframe context, same process) and
// DialWebSocketPeer/ListenAndAcceptWebSocketPeer (popup context, separate
// process/origin).
type Peer interface {
	// Post sends raw text to the peer, the analogue of
	// targetWindow.postMessage(raw, targetOrigin).
	Post(raw string) error

	// Origin is the expected peer origin ("*" disables the check). A
	// message whose transport-reported origin (InboundMessage.Origin) does
	// not match it is dropped; the frame's own source.domain is not compared.
	Origin() string

	// Messages delivers inbound transport events until the peer is closed.
	Messages() <-chan InboundMessage

	// Close tears down the underlying transport.
	Close() error
}
