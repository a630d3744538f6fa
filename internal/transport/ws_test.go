package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestWebSocketHandshakeAcceptsTrustedDomain(t *testing.T) {
	key := mustKey(t)
	id := DomainIdentity{Domain: "https://host.example", PrivateKey: key}
	trusted := TrustedKeys{"https://host.example": &key.PublicKey}

	const addr = "127.0.0.1:18471"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acceptCh := make(chan *WebSocketPeer, 1)
	errCh := make(chan error, 1)
	go func() {
		peer, err := ListenAndAcceptWebSocketPeer(ctx, addr, trusted)
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- peer
	}()

	time.Sleep(50 * time.Millisecond)
	client, err := DialWebSocketPeer(ctx, addr, id, "uid-client", "https://consumer.example")
	require.NoError(t, err)
	defer client.Close()

	select {
	case peer := <-acceptCh:
		defer peer.Close()
		require.Equal(t, "https://host.example", peer.Origin())
	case err := <-errCh:
		t.Fatalf("accept side rejected handshake: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted peer")
	}
}

func TestWebSocketHandshakeRejectsUntrustedDomain(t *testing.T) {
	key := mustKey(t)
	id := DomainIdentity{Domain: "https://impostor.example", PrivateKey: key}
	trusted := TrustedKeys{"https://host.example": &mustKey(t).PublicKey}

	const addr = "127.0.0.1:18472"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := ListenAndAcceptWebSocketPeer(ctx, addr, trusted)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client, dialErr := DialWebSocketPeer(ctx, addr, id, "uid-client", "https://consumer.example")
	if dialErr == nil {
		defer client.Close()
	}

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept side to reject the handshake")
	}
}

func TestVerifyHandshakeSignatureRejectsWrongKey(t *testing.T) {
	signer := mustKey(t)
	other := mustKey(t)
	id := DomainIdentity{Domain: "https://host.example", PrivateKey: signer}

	headers, err := signHandshake(id, "127.0.0.1:18473")
	require.NoError(t, err)

	trusted := TrustedKeys{"https://host.example": &other.PublicKey}
	err = verifyHandshakeSignature("GET", "/", "127.0.0.1:18473", headers.Get("Date"), headers.Get("Signature"), trusted, "https://host.example")
	require.Error(t, err)
}

func TestVerifyHandshakeSignatureAcceptsMatchingKey(t *testing.T) {
	key := mustKey(t)
	id := DomainIdentity{Domain: "https://host.example", PrivateKey: key}

	headers, err := signHandshake(id, "127.0.0.1:18474")
	require.NoError(t, err)

	trusted := TrustedKeys{"https://host.example": &key.PublicKey}
	err = verifyHandshakeSignature("GET", "/", "127.0.0.1:18474", headers.Get("Date"), headers.Get("Signature"), trusted, "https://host.example")
	require.NoError(t, err)
}
