// Package projector computes the prop view that crosses the consumer/host
// boundary given a schema: alias resolution, defaults, decoration,
// domain-based redaction, and query-param projection.
package projector

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/jshsmth/forgeframe/internal/propschema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the output of one projection pass.
type Result struct {
	// Props is the full effective user-facing prop bag (post alias
	// resolution, defaults, and decoration) — what the consumer keeps as
	// its own currentProps.
	Props map[string]any
	// HostProps is the subset that crosses the boundary, after redaction
	// and hostDecorate.
	HostProps map[string]any
	// QueryParams is the flattened string projection for entries marked
	// queryParam.
	QueryParams map[string]string
}

// Project computes Result for one render or updateProps pass. userProps is
// the caller-supplied bag (already merged with any prior updateProps
// calls); ctx carries the peer-origin/sameDomain facts the schema's
// redaction rules consult.
func Project(schema propschema.Schema, userProps map[string]any, ctx propschema.Context) (Result, error) {
	res := Result{
		Props:       make(map[string]any, len(schema)),
		HostProps:   make(map[string]any, len(schema)),
		QueryParams: make(map[string]string),
	}

	for name, entry := range schema {
		value, hasValue, err := effectiveValue(name, entry, userProps, ctx)
		if err != nil {
			return Result{}, err
		}
		if !hasValue {
			if entry.Required {
				return Result{}, &SchemaRequiredError{Prop: name}
			}
			continue
		}

		if err := validateEntry(name, entry, value); err != nil {
			return Result{}, err
		}

		if entry.Decorate != nil {
			value, err = entry.Decorate(value, ctx)
			if err != nil {
				return Result{}, &PropValidationFailure{Prop: name, Message: err.Error()}
			}
		}

		res.Props[name] = value

		if includeInQueryParams(entry) {
			if qv, ok := queryParamValue(entry, value); ok {
				res.QueryParams[queryParamName(entry, name)] = qv
			}
		}

		if !sendToHost(entry, ctx) {
			continue
		}

		hostValue := value
		if entry.HostDecorate != nil {
			hostValue, err = entry.HostDecorate(hostValue, ctx)
			if err != nil {
				return Result{}, &PropValidationFailure{Prop: name, Message: err.Error()}
			}
		}
		res.HostProps[name] = hostValue
	}

	return res, nil
}

// effectiveValue resolves one entry's value by precedence:
// alias-resolved user input, then the schema's computed Value, then its
// Default.
func effectiveValue(name string, entry *propschema.Entry, userProps map[string]any, ctx propschema.Context) (any, bool, error) {
	if v, ok := userProps[name]; ok {
		return v, true, nil
	}
	if entry.Alias != "" {
		if v, ok := userProps[entry.Alias]; ok {
			return v, true, nil
		}
	}
	if entry.Value != nil {
		v, err := entry.Value(ctx)
		if err != nil {
			return nil, false, &PropValidationFailure{Prop: name, Message: err.Error()}
		}
		if v != nil {
			return v, true, nil
		}
	}
	if entry.DefaultFunc != nil {
		v, err := entry.DefaultFunc(ctx)
		if err != nil {
			return nil, false, &PropValidationFailure{Prop: name, Message: err.Error()}
		}
		if v != nil {
			return v, true, nil
		}
	}
	if entry.Default != nil {
		return entry.Default, true, nil
	}
	return nil, false, nil
}

func validateEntry(name string, entry *propschema.Entry, value any) error {
	if entry.Standard != nil {
		if _, err := entry.Standard.Validate(value); err != nil {
			return &AsyncSchemaRejectedError{Prop: name, Err: err}
		}
		return nil
	}
	if err := entry.CheckKind(name, value); err != nil {
		return &SchemaTypeMismatchError{Prop: name, Err: err}
	}
	if entry.Validate != nil {
		if err := entry.Validate(value); err != nil {
			return &PropValidationFailure{Prop: name, Message: err.Error()}
		}
	}
	return nil
}

// sendToHost implements the host-visibility redaction rules. An entry's
// own TrustedDomains wins; entries without one fall back to the
// component-level whitelist.
func sendToHost(entry *propschema.Entry, ctx propschema.Context) bool {
	if entry.SendToHost != nil && !*entry.SendToHost {
		return false
	}
	if entry.SameDomain && !ctx.SameDomain {
		return false
	}
	trusted := entry.TrustedDomains
	if len(trusted) == 0 {
		trusted = ctx.TrustedDomains
	}
	if len(trusted) > 0 && !contains(trusted, ctx.PeerOrigin) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func includeInQueryParams(entry *propschema.Entry) bool {
	return entry.QueryParam != "" || entry.QueryParamFunc != nil
}

func queryParamName(entry *propschema.Entry, fallback string) string {
	if entry.QueryParam != "" {
		return entry.QueryParam
	}
	return fallback
}

// queryParamValue renders value for the query string, skipping functions
// and nil/undefined.
func queryParamValue(entry *propschema.Entry, value any) (string, bool) {
	if entry.QueryParamFunc != nil {
		return entry.QueryParamFunc(value)
	}
	if value == nil {
		return "", false
	}
	if s, ok := value.(string); ok {
		return s, true
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Delta is the set of host-visible prop changes produced by one
// updateProps call.
type Delta map[string]any

// Diff computes the host-visible entries that changed between a prior and
// new projection, by shallow inequality. Entries present in prev but
// absent from next (e.g. redacted by a schema change) are reported as nil.
func Diff(prev, next map[string]any) Delta {
	delta := Delta{}
	for k, v := range next {
		old, existed := prev[k]
		if !existed || !shallowEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range prev {
		if _, stillPresent := next[k]; !stillPresent {
			delta[k] = nil
		}
	}
	return delta
}

func shallowEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}
