// Package forgeframe is the root instance-controller package: it ties the
// wire codec, endpoint, serializer, and prop projector together into the
// consumer-side and host-side lifecycle state machines.
package forgeframe

import (
	"context"
	"sync/atomic"

	"github.com/jshsmth/forgeframe/internal/registry"
	"github.com/jshsmth/forgeframe/internal/transport"
)

// Dimensions is width/height where each may be a number (CSS pixels) or a
// CSS-length string.
type Dimensions struct {
	Width  any
	Height any
}

// FrameSurface creates/destroys the embedded view and exposes its message
// endpoint to the broker. Two reference implementations ship in
// internal/transport-backed constructors in surface.go: NewIframeSurface (a
// goroutine-local duplex channel pair) and NewPopupSurface (a loopback
// WebSocket dial, standing in for a genuinely separate window/process).
type FrameSurface interface {
	// Open creates the embedded view for the instance identified by uid
	// and returns the Peer the broker will speak to along with the
	// origin that peer is expected to present. An error here is the Go
	// analogue of window.open returning null when a popup is blocked.
	Open(ctx context.Context, uid string) (peer transport.Peer, peerOrigin string, err error)
	Resize(d Dimensions) error
	Show() error
	Hide() error
	Focus() error
	// Destroy tears down the view. Safe to call more than once.
	Destroy() error
}

// Role distinguishes which side of the broker a process is playing. A Go
// process has no ambient DOM to introspect the way a browser page detects
// whether it is embedded, so cmd/playground declares its role explicitly
// at startup via SetRole.
type Role int

const (
	RoleUnknown Role = iota
	RoleConsumer
	RoleHost
)

var currentRole atomic.Int32

// SetRole records which side of the broker this process is playing.
// cmd/playground calls this once at startup based on its --role flag.
func SetRole(r Role) { currentRole.Store(int32(r)) }

// IsConsumer reports whether SetRole(RoleConsumer) was called.
func IsConsumer() bool { return Role(currentRole.Load()) == RoleConsumer }

// IsHost reports whether SetRole(RoleHost) was called.
func IsHost() bool { return Role(currentRole.Load()) == RoleHost }

// GetComponent looks up a rendered instance by uid in the process-wide
// registry.
func GetComponent(uid string) (registry.Instance, bool) {
	return registry.Default.Get(uid)
}

// DestroyAll closes every registered instance, consumer- and host-side
// alike.
func DestroyAll() error {
	return registry.Default.DestroyAll()
}
