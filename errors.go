package forgeframe

import (
	"fmt"

	"github.com/jshsmth/forgeframe/internal/projector"
	"github.com/jshsmth/forgeframe/internal/transport"
)

// Timeout, EndpointClosed, and HandlerFailure are the transport package's
// own sentinel/typed errors re-exported here so callers never need to
// import internal/transport themselves. PropValidationFailure,
// SchemaRequired, SchemaTypeMismatch, and AsyncSchemaRejected are likewise
// re-exported from internal/projector.
var (
	ErrTimeout        = transport.ErrTimeout
	ErrEndpointClosed = transport.ErrEndpointClosed
)

type (
	HandlerFailure           = transport.HandlerFailure
	PropValidationFailure    = projector.PropValidationFailure
	SchemaRequiredError      = projector.SchemaRequiredError
	SchemaTypeMismatchError  = projector.SchemaTypeMismatchError
	AsyncSchemaRejectedError = projector.AsyncSchemaRejectedError
)

// PopupBlockedError means render(..., "popup") could not open a popup
// window — the Go stand-in is a FrameSurface.Open call that fails because
// no accepting peer could be reached.
type PopupBlockedError struct{ Reason string }

func (e *PopupBlockedError) Error() string {
	if e.Reason == "" {
		return "forgeframe: popup blocked"
	}
	return fmt.Sprintf("forgeframe: popup blocked: %s", e.Reason)
}

// ErrPopupBlocked is a PopupBlockedError with no reason. Consumer.Render
// does not return this value itself: when FrameSurface.Open fails it
// returns a fresh *PopupBlockedError carrying the Open error's message, so
// errors.Is against ErrPopupBlocked does not match it.
var ErrPopupBlocked error = &PopupBlockedError{}

// OriginMismatchError is surfaced exactly once, at render time, when the
// Frame surface's peer origin does not match the component's configured
// URL origin. Per-frame origin mismatches after that point are dropped
// silently and never reach user code — this type exists only for the
// render-time case.
type OriginMismatchError struct {
	Expected string
	Got      string
}

func (e *OriginMismatchError) Error() string {
	return fmt.Sprintf("forgeframe: origin mismatch: expected %q, got %q", e.Expected, e.Got)
}
