package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateCreatesThenReloadsSameKey(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "widget.key")
	pubPath := filepath.Join(dir, "widget.pub.pem")

	first, err := LoadOrGenerate(privPath, pubPath, 2048)
	require.NoError(t, err)
	require.NotNil(t, first.Private)
	require.NotNil(t, first.Public)

	second, err := LoadOrGenerate(privPath, pubPath, 2048)
	require.NoError(t, err)
	require.Equal(t, first.Private.D, second.Private.D)
	require.True(t, first.Public.Equal(second.Public))
}

func TestLoadPublicKeyMatchesGeneratedPair(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "widget.key")
	pubPath := filepath.Join(dir, "widget.pub.pem")

	pair, err := LoadOrGenerate(privPath, pubPath, 2048)
	require.NoError(t, err)

	loaded, err := LoadPublicKey(pubPath)
	require.NoError(t, err)
	require.True(t, pair.Public.Equal(loaded))
}

func TestLoadPublicKeyRejectsMissingFile(t *testing.T) {
	_, err := LoadPublicKey(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}
