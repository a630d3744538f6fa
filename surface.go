package forgeframe

import (
	"context"
	"fmt"

	"github.com/jshsmth/forgeframe/internal/transport"
)

// IframeSurface is the in-process FrameSurface: the embedded view lives on
// the other end of a channel pair in the same process, the Go analogue of
// an iframe sharing its parent's browsing context. Resize/Show/Hide/Focus
// are no-ops, since there is no real DOM node to manipulate; a host application wanting to observe them should
// read the corresponding lifecycle events instead.
type IframeSurface struct {
	hostPeer   transport.Peer
	ownOrigin  string
	peerOrigin string
	onOpen     func(consumerPeer transport.Peer)
}

// NewIframeSurface returns a FrameSurface whose Open call wires a
// NewDuplexPair, hands the consumer-facing half to onOpen (so test or
// playground code can immediately construct the matching Consumer/Host
// pair), and returns the embedder-facing half to the broker. ownOrigin is
// the origin this side stamps on its messages; peerOrigin the origin the
// opened peer presents.
func NewIframeSurface(ownOrigin, peerOrigin string, onOpen func(consumerPeer transport.Peer)) *IframeSurface {
	return &IframeSurface{ownOrigin: ownOrigin, peerOrigin: originOf(peerOrigin), onOpen: onOpen}
}

func (s *IframeSurface) Open(ctx context.Context, uid string) (transport.Peer, string, error) {
	a, b := transport.NewDuplexPair(s.ownOrigin, s.peerOrigin)
	s.hostPeer = a
	if s.onOpen != nil {
		s.onOpen(b)
	}
	return a, s.peerOrigin, nil
}

func (s *IframeSurface) Resize(d Dimensions) error { return nil }
func (s *IframeSurface) Show() error               { return nil }
func (s *IframeSurface) Hide() error               { return nil }
func (s *IframeSurface) Focus() error              { return nil }

func (s *IframeSurface) Destroy() error {
	if s.hostPeer == nil {
		return nil
	}
	return s.hostPeer.Close()
}

// PopupSurface is the cross-process FrameSurface: the embedded view is
// reached over a loopback WebSocket dial, standing in for a genuinely
// separate window or process opened as a popup.
// Resize/Show/Hide/Focus have no native window manager to drive in this
// environment, so they are recorded as a no-op the same way IframeSurface's
// are; a real windowing embedder would forward these to platform calls.
type PopupSurface struct {
	addr    string
	id      transport.DomainIdentity
	trusted transport.TrustedKeys
	origin  string

	peer transport.Peer
}

// NewPopupSurface returns a FrameSurface that dials addr as id, asserting
// uid at Open time, and expects the far side to present origin.
func NewPopupSurface(addr string, id transport.DomainIdentity, trusted transport.TrustedKeys, origin string) *PopupSurface {
	return &PopupSurface{addr: addr, id: id, trusted: trusted, origin: origin}
}

func (s *PopupSurface) Open(ctx context.Context, uid string) (transport.Peer, string, error) {
	peer, err := transport.DialWebSocketPeer(ctx, s.addr, s.id, uid, s.origin)
	if err != nil {
		return nil, "", fmt.Errorf("forgeframe: popup blocked: %w", err)
	}
	s.peer = peer
	return peer, s.origin, nil
}

func (s *PopupSurface) Resize(d Dimensions) error { return nil }
func (s *PopupSurface) Show() error               { return nil }
func (s *PopupSurface) Hide() error               { return nil }
func (s *PopupSurface) Focus() error              { return nil }

func (s *PopupSurface) Destroy() error {
	if s.peer == nil {
		return nil
	}
	return s.peer.Close()
}
