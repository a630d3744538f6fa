// Package uid generates stable per-instance identifiers and opaque proxy
// tokens, used for component instance UIDs (embedded in frame names and
// the handshake) and for value-proxy tokens.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// UID is a stable per-instance identifier. It is the string form of a
// random (v4) UUID, safe to embed directly in a frame name, a window name,
// or a URL query parameter.
type UID string

// New returns a fresh, globally unique UID.
func New() UID {
	return UID(uuid.NewString())
}

// String satisfies fmt.Stringer, so a UID prints and embeds as plain text.
func (u UID) String() string { return string(u) }

// Short returns an 8-character prefix suitable for log lines.
func (u UID) Short() string {
	s := string(u)
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// tokenPrefix distinguishes proxy tokens from UIDs at a glance in logs,
// even though both are UUID-shaped strings on the wire.
const tokenPrefix = "tok_"

// NewToken returns a fresh opaque proxy token, unique per endpoint per
// owner side. Callers namespace tokens per endpoint; uniqueness across
// endpoints is not required but is free since the token itself is a UUID.
func NewToken() string {
	return tokenPrefix + uuid.NewString()
}

// IsToken reports whether s has the shape of a value produced by NewToken.
func IsToken(s string) bool {
	return strings.HasPrefix(s, tokenPrefix)
}
