// Package propschema describes the shape of a component's prop bag as data
// rather than as Go types, so a schema can be built at component-creation
// time and validated against the runtime value the projector computes. It
// is a tagged variant per kind (string, number, function, ...).
package propschema

import (
	"fmt"
	"reflect"
)

// Kind names a variant of prop schema entry.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBool    Kind = "boolean"
	KindFunc    Kind = "function"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindLiteral Kind = "literal"
	KindEnum    Kind = "enum"
	KindAny     Kind = "any"
)

// Context is passed to a computed Value/Default/decorator function. It
// carries just enough of the surrounding render to let a schema entry
// derive its value from sibling props or from peer origin information,
// without reaching back into the instance controller itself.
type Context struct {
	Props      map[string]any
	PeerOrigin string
	SameDomain bool
	// TrustedDomains is the component-level whitelist: entries without
	// their own TrustedDomains inherit it.
	TrustedDomains []string
}

// Entry is one prop schema field. Only the fields relevant to Kind are
// consulted; the zero value of irrelevant fields is ignored.
type Entry struct {
	Kind Kind

	Required bool
	Alias    string // alternate user-facing name; canonical wins when both present

	// Value, when non-nil, computes the effective value when the user
	// supplied none (under the canonical name or the alias); user input
	// takes precedence over it, and a nil result falls through to Default.
	Value func(ctx Context) (any, error)
	// Default supplies a fallback when neither user input nor Value
	// produced a value. May be a literal or a function of Context.
	Default      any
	DefaultFunc  func(ctx Context) (any, error)
	Validate     func(v any) error
	Decorate     func(v any, ctx Context) (any, error)
	HostDecorate func(v any, ctx Context) (any, error)

	// ArrayOf/ObjectOf/EnumValues apply only to the matching Kind.
	ArrayOf    *Entry
	ObjectOf   map[string]*Entry
	EnumValues []any
	Literal    any

	// SendToHost controls inclusion in the host-visible projection;
	// nil means "include" (the zero value for *bool would be false,
	// which is why this is a pointer — the default is true except for
	// the builtin lifecycle callbacks, which set it false explicitly).
	SendToHost *bool
	// SameDomain, when true, redacts this entry from the host view
	// whenever the peer is cross-domain.
	SameDomain bool
	// TrustedDomains, when non-empty, whitelists which peer origins may
	// receive this entry.
	TrustedDomains []string

	// QueryParam, when non-empty, projects this entry into the host
	// frame's URL query string under this name. QueryParamFunc, when set,
	// also enables the projection and transforms the value; the parameter
	// is then named QueryParam if non-empty, else the prop's own name.
	QueryParam     string
	QueryParamFunc func(v any) (string, bool)

	// Standard, when set, substitutes an externally supplied schema
	// library's Validate for CheckKind/Validate entirely.
	Standard *Standard
}

func boolPtr(b bool) *bool { return &b }

// Hidden marks an entry sendToHost:false — the shape every builtin
// lifecycle callback prop (onRendered, onClose, ...) uses.
func Hidden(e Entry) Entry {
	e.SendToHost = boolPtr(false)
	return e
}

// Schema is the full prop-schema map for one component, keyed by canonical
// (non-alias) prop name.
type Schema map[string]*Entry

// Standard wraps an externally supplied schema library so it can be plugged
// in instead of the built-in variant system.
type Standard struct {
	Version  string
	Vendor   string
	Validate func(value any) (any, error)
}

// TypeMismatchError reports that a value didn't satisfy an entry's Kind.
type TypeMismatchError struct {
	Prop     string
	Expected Kind
	Got      any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("forgeframe: prop %q expected %s, got %T", e.Prop, e.Expected, e.Got)
}

// RequiredError reports a missing required prop with no default.
type RequiredError struct{ Prop string }

func (e *RequiredError) Error() string {
	return fmt.Sprintf("forgeframe: prop %q is required", e.Prop)
}

// CheckKind validates that v matches e.Kind. An array where an object
// (or vice versa) is expected is always a type mismatch, never silently
// coerced.
func (e *Entry) CheckKind(prop string, v any) error {
	if v == nil {
		return nil
	}
	switch e.Kind {
	case KindAny, "":
		return nil
	case KindString:
		if _, ok := v.(string); !ok {
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindFunc:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Func {
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindArray:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindObject:
		if _, ok := v.(map[string]any); !ok {
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindLiteral:
		if !reflect.DeepEqual(v, e.Literal) {
			return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
		}
	case KindEnum:
		for _, allowed := range e.EnumValues {
			if reflect.DeepEqual(v, allowed) {
				return nil
			}
		}
		return &TypeMismatchError{Prop: prop, Expected: e.Kind, Got: v}
	}
	return nil
}
