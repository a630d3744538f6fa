package propschema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckKindRejectsArrayWhereObjectExpected(t *testing.T) {
	entry := &Entry{Kind: KindObject}
	err := entry.CheckKind("config", []any{1, 2, 3})
	require.Error(t, err)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, KindObject, mismatch.Expected)
}

func TestCheckKindRejectsObjectWhereArrayExpected(t *testing.T) {
	entry := &Entry{Kind: KindArray}
	err := entry.CheckKind("items", map[string]any{"0": "a"})
	require.Error(t, err)
}

func TestCheckKindAcceptsMatchingPrimitives(t *testing.T) {
	require.NoError(t, (&Entry{Kind: KindString}).CheckKind("name", "Ada"))
	require.NoError(t, (&Entry{Kind: KindNumber}).CheckKind("count", float64(7)))
	require.NoError(t, (&Entry{Kind: KindBool}).CheckKind("flag", true))
}

func TestCheckKindNilAlwaysPasses(t *testing.T) {
	require.NoError(t, (&Entry{Kind: KindString}).CheckKind("name", nil))
}

func TestCheckKindEnum(t *testing.T) {
	entry := &Entry{Kind: KindEnum, EnumValues: []any{"a", "b", "c"}}
	require.NoError(t, entry.CheckKind("mode", "b"))
	require.Error(t, entry.CheckKind("mode", "z"))
}

func TestHiddenForcesSendToHostFalse(t *testing.T) {
	e := Hidden(Entry{Kind: KindFunc})
	require.NotNil(t, e.SendToHost)
	require.False(t, *e.SendToHost)
}
