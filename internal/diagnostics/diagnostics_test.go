package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jshsmth/forgeframe/internal/transport"
	"github.com/jshsmth/forgeframe/internal/wire"
)

func TestRecordAccumulatesCounts(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(transport.DropOriginMismatch))
	require.NoError(t, store.Record(transport.DropOriginMismatch))
	require.NoError(t, store.Record(transport.DropUnknownRequest))

	counts, err := store.Counts()
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[string(transport.DropOriginMismatch)])
	require.Equal(t, int64(1), counts[string(transport.DropUnknownRequest)])
}

func TestOnDropAdaptsToEndpointCallback(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	store.OnDrop(transport.DropDecodeFailure, wire.Frame{})

	counts, err := store.Counts()
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[string(transport.DropDecodeFailure)])
}
