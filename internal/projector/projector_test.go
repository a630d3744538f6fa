package projector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jshsmth/forgeframe/internal/propschema"
)

func TestSendToHostFalseIsAbsentFromHostView(t *testing.T) {
	schema := propschema.Schema{
		"onGreet": &propschema.Entry{Kind: propschema.KindFunc, SendToHost: boolPtr(false)},
	}
	res, err := Project(schema, map[string]any{"onGreet": func() {}}, propschema.Context{})
	require.NoError(t, err)
	require.Contains(t, res.Props, "onGreet")
	require.NotContains(t, res.HostProps, "onGreet")
}

func TestSameDomainEntryAbsentCrossDomain(t *testing.T) {
	schema := propschema.Schema{
		"secret": &propschema.Entry{Kind: propschema.KindString, SameDomain: true},
	}
	res, err := Project(schema, map[string]any{"secret": "s3cr3t"}, propschema.Context{SameDomain: false})
	require.NoError(t, err)
	require.NotContains(t, res.HostProps, "secret")

	res, err = Project(schema, map[string]any{"secret": "s3cr3t"}, propschema.Context{SameDomain: true})
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", res.HostProps["secret"])
}

func TestTrustedDomainsWhitelistEnforced(t *testing.T) {
	schema := propschema.Schema{
		"apiKey": &propschema.Entry{Kind: propschema.KindString, TrustedDomains: []string{"https://trusted.example"}},
	}
	res, err := Project(schema, map[string]any{"apiKey": "k"}, propschema.Context{PeerOrigin: "https://other.example"})
	require.NoError(t, err)
	require.NotContains(t, res.HostProps, "apiKey")

	res, err = Project(schema, map[string]any{"apiKey": "k"}, propschema.Context{PeerOrigin: "https://trusted.example"})
	require.NoError(t, err)
	require.Equal(t, "k", res.HostProps["apiKey"])
}

func TestComponentLevelTrustedDomainsApplyWhenEntryHasNone(t *testing.T) {
	schema := propschema.Schema{
		"token":  &propschema.Entry{Kind: propschema.KindString},
		"public": &propschema.Entry{Kind: propschema.KindString, TrustedDomains: []string{"https://other.example"}},
	}
	props := map[string]any{"token": "t", "public": "p"}

	// The entry without its own whitelist inherits the component-level
	// one; the entry with its own keeps it.
	ctx := propschema.Context{
		PeerOrigin:     "https://other.example",
		TrustedDomains: []string{"https://trusted.example"},
	}
	res, err := Project(schema, props, ctx)
	require.NoError(t, err)
	require.NotContains(t, res.HostProps, "token")
	require.Equal(t, "p", res.HostProps["public"])

	ctx.PeerOrigin = "https://trusted.example"
	res, err = Project(schema, props, ctx)
	require.NoError(t, err)
	require.Equal(t, "t", res.HostProps["token"])
	require.NotContains(t, res.HostProps, "public")
}

func TestDecorateAppliedBeforeHostDecorate(t *testing.T) {
	schema := propschema.Schema{
		"name": &propschema.Entry{
			Kind: propschema.KindString,
			Decorate: func(v any, ctx propschema.Context) (any, error) {
				return v.(string) + "-decorated", nil
			},
			HostDecorate: func(v any, ctx propschema.Context) (any, error) {
				return v.(string) + "-hostdecorated", nil
			},
		},
	}
	res, err := Project(schema, map[string]any{"name": "Ada"}, propschema.Context{})
	require.NoError(t, err)
	require.Equal(t, "Ada-decorated", res.Props["name"])
	require.Equal(t, "Ada-decorated-hostdecorated", res.HostProps["name"])
}

func TestAliasCanonicalWinsWhenBothPresent(t *testing.T) {
	schema := propschema.Schema{
		"count": &propschema.Entry{Kind: propschema.KindNumber, Alias: "cnt"},
	}
	res, err := Project(schema, map[string]any{"count": float64(1), "cnt": float64(99)}, propschema.Context{})
	require.NoError(t, err)
	require.Equal(t, float64(1), res.Props["count"])
}

func TestAliasUsedWhenCanonicalAbsent(t *testing.T) {
	schema := propschema.Schema{
		"count": &propschema.Entry{Kind: propschema.KindNumber, Alias: "cnt"},
	}
	res, err := Project(schema, map[string]any{"cnt": float64(42)}, propschema.Context{})
	require.NoError(t, err)
	require.Equal(t, float64(42), res.Props["count"])
}

func TestRequiredPropMissingFails(t *testing.T) {
	schema := propschema.Schema{
		"name": &propschema.Entry{Kind: propschema.KindString, Required: true},
	}
	_, err := Project(schema, map[string]any{}, propschema.Context{})
	require.Error(t, err)
	var reqErr *SchemaRequiredError
	require.ErrorAs(t, err, &reqErr)
}

func TestDefaultUsedWhenUserInputAbsent(t *testing.T) {
	schema := propschema.Schema{
		"count": &propschema.Entry{Kind: propschema.KindNumber, Default: float64(0)},
	}
	res, err := Project(schema, map[string]any{}, propschema.Context{})
	require.NoError(t, err)
	require.Equal(t, float64(0), res.Props["count"])
}

func TestArrayWhereObjectExpectedIsTypeMismatch(t *testing.T) {
	schema := propschema.Schema{
		"config": &propschema.Entry{Kind: propschema.KindObject},
	}
	_, err := Project(schema, map[string]any{"config": []any{1, 2}}, propschema.Context{})
	require.Error(t, err)
	var mismatch *SchemaTypeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestQueryParamProjectionSkipsFunctionsAndNils(t *testing.T) {
	schema := propschema.Schema{
		"theme": &propschema.Entry{Kind: propschema.KindString, QueryParam: "theme"},
		"onDone": &propschema.Entry{Kind: propschema.KindFunc, QueryParam: "onDone", SendToHost: boolPtr(false)},
		"note":   &propschema.Entry{Kind: propschema.KindString, QueryParam: "note"},
	}
	res, err := Project(schema, map[string]any{"theme": "dark", "onDone": func() {}, "note": nil}, propschema.Context{})
	require.NoError(t, err)
	require.Equal(t, "dark", res.QueryParams["theme"])
	require.NotContains(t, res.QueryParams, "onDone")
	require.NotContains(t, res.QueryParams, "note")
}

func TestStandardSchemaRejectionIsAsyncSchemaRejected(t *testing.T) {
	schema := propschema.Schema{
		"age": &propschema.Entry{
			Standard: &propschema.Standard{
				Version: "1",
				Vendor:  "custom",
				Validate: func(v any) (any, error) {
					return nil, fmt.Errorf("must be positive")
				},
			},
		},
	}
	_, err := Project(schema, map[string]any{"age": float64(-1)}, propschema.Context{})
	require.Error(t, err)
	var rejected *AsyncSchemaRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestDiffReportsChangedAndRemovedKeys(t *testing.T) {
	prev := map[string]any{"count": float64(1), "name": "Ada", "theme": "dark"}
	next := map[string]any{"count": float64(7), "name": "Ada"}
	delta := Diff(prev, next)
	require.Equal(t, Delta{"count": float64(7), "theme": nil}, delta)
}

func boolPtr(b bool) *bool { return &b }
