package transport

import "sync"

// duplexPeer is an in-process Peer: two instances share a pair of channels,
// the Go analogue of an iframe sharing its parent's browsing context (no
// real network hop, but still logically a separate window with its own
// origin).
type duplexPeer struct {
	selfOrigin string                // stamped on outbound messages
	peerOrigin string                // what inbound messages must carry
	out        chan<- InboundMessage // writes land in the *other* peer's inbox
	in         chan InboundMessage   // reads come from our own inbox

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDuplexPair returns two connected peers, a and b, such that a.Post
// delivers to b.Messages() and vice versa. aOrigin is the origin a claims
// as its source (and therefore what b expects of its peer), bOrigin the
// origin b claims (what a expects).
func NewDuplexPair(aOrigin, bOrigin string) (a, b Peer) {
	abChan := make(chan InboundMessage, 16)
	baChan := make(chan InboundMessage, 16)

	pa := &duplexPeer{selfOrigin: aOrigin, peerOrigin: bOrigin, out: abChan, in: baChan, closed: make(chan struct{})}
	pb := &duplexPeer{selfOrigin: bOrigin, peerOrigin: aOrigin, out: baChan, in: abChan, closed: make(chan struct{})}
	return pa, pb
}

func (p *duplexPeer) Post(raw string) error {
	select {
	case <-p.closed:
		return errPeerClosed
	default:
	}
	select {
	case p.out <- InboundMessage{Raw: raw, Origin: p.selfOrigin}:
		return nil
	case <-p.closed:
		return errPeerClosed
	}
}

func (p *duplexPeer) Origin() string { return p.peerOrigin }

func (p *duplexPeer) Messages() <-chan InboundMessage { return p.in }

func (p *duplexPeer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

type peerClosedError struct{}

func (peerClosedError) Error() string { return "forgeframe: peer closed" }

var errPeerClosed = peerClosedError{}
