package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	frames := []Frame{
		{ID: "1", Type: TypeRequest, Name: "handshake", Source: Source{UID: "u1", Domain: "https://a.example"}},
		{ID: "2", Type: TypeResponse, Name: "response", Data: []byte(`{"ok":true}`), Source: Source{UID: "u2"}},
		{ID: "3", Type: TypeAck, Name: "ack", Source: Source{UID: "u3"}},
		{ID: "4", Type: TypeResponse, Name: "response", Source: Source{UID: "u4"}, Error: &FrameError{Message: "boom", Name: "Error"}},
	}

	for _, f := range frames {
		raw, err := Encode(f)
		require.NoError(t, err)
		got, ok := Decode(raw)
		require.True(t, ok)
		if diff := cmp.Diff(f, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeRejectsForeignTraffic(t *testing.T) {
	cases := []string{
		"",
		"not-ours:{}",
		"forgeframe:",
		"forgeframe:{not json",
		`forgeframe:{"id":"1"}`,             // missing type
		`forgeframe:{"type":"request"}`,     // missing id
		`forgeframe:{"id":"1","type":"bogus"}`,
		`forgeframe:{"id":1,"type":"request"}`, // id not a string
		`forgeframe:42`,
		`forgeframe:null`,
	}
	for _, c := range cases {
		_, ok := Decode(c)
		require.Falsef(t, ok, "expected Decode(%q) to reject", c)
	}
}

func TestEncodeRejectsInvalidFrame(t *testing.T) {
	_, err := Encode(Frame{Type: TypeRequest})
	require.Error(t, err)

	_, err = Encode(Frame{ID: "1", Type: "bogus"})
	require.Error(t, err)
}

func TestDecodeIgnoresUnprefixedString(t *testing.T) {
	_, ok := Decode(`{"id":"1","type":"request"}`)
	require.False(t, ok)
}
