// Package wire implements the ForgeFrame wire codec: a fixed textual prefix
// plus a JSON payload. The codec is pure and stateless — it recognises its
// own traffic on a postMessage-shaped channel shared with other libraries
// and rejects everything else.
package wire

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

// Prefix is the fixed literal that opens every frame sent by this library.
// Any string transport value that doesn't start with Prefix is not ours and
// is ignored by Decode.
const Prefix = "forgeframe:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type enumerates the three frame kinds.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeAck      Type = "ack"
)

func (t Type) valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeAck:
		return true
	default:
		return false
	}
}

// Source identifies the endpoint that produced a frame.
type Source struct {
	UID    string `json:"uid"`
	Domain string `json:"domain"`
}

// FrameError is the error shape carried on a response frame that failed.
type FrameError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Frame is the decoded representation of a single message.
type Frame struct {
	ID     string              `json:"id"`
	Type   Type                `json:"type"`
	Name   string              `json:"name,omitempty"`
	Data   jsoniter.RawMessage `json:"data,omitempty"`
	Source Source              `json:"source"`
	Error  *FrameError         `json:"error,omitempty"`
}

// Encode renders f as the literal string that crosses the transport:
// Prefix + JSON(f).
func Encode(f Frame) (string, error) {
	if !f.Type.valid() {
		return "", fmt.Errorf("wire: invalid frame type %q", f.Type)
	}
	if f.ID == "" {
		return "", fmt.Errorf("wire: frame id must not be empty")
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("wire: encode: %w", err)
	}
	return Prefix + string(b), nil
}

// Decode parses raw as a Frame. It returns (Frame{}, false) — never an
// error — for anything that isn't recognisably ours: not a string-shaped
// prefix match, malformed JSON, or missing the two mandatory fields `id`
// and `type`.
func Decode(raw string) (Frame, bool) {
	if !strings.HasPrefix(raw, Prefix) {
		return Frame{}, false
	}
	body := raw[len(Prefix):]

	// Cheap shape probe before paying for a full unmarshal: reject anything
	// missing the two frame-identifying fields without ever touching the
	// (possibly large) data payload.
	if !gjson.Valid(body) {
		return Frame{}, false
	}
	idRes := gjson.Get(body, "id")
	typeRes := gjson.Get(body, "type")
	if idRes.Type != gjson.String || idRes.String() == "" {
		return Frame{}, false
	}
	if typeRes.Type != gjson.String || !Type(typeRes.String()).valid() {
		return Frame{}, false
	}

	var f Frame
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return Frame{}, false
	}
	if !f.Type.valid() || f.ID == "" {
		return Frame{}, false
	}
	return f, true
}
