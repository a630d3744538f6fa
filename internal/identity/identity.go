// Package identity loads or generates the RSA key pair a domain uses to
// sign its popup-transport handshake, and parses a peer's public key for
// the trust keyring passed to transport.ListenAndAcceptWebSocketPeer.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
)

// KeyPair is a domain's RSA signing identity.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// LoadOrGenerate loads an RSA key pair from PEM files at privatePath and
// publicPath, generating and persisting a new pair of the given bit size
// if they don't exist yet. Zero-setup for a playground run started with
// an empty --key-dir.
func LoadOrGenerate(privatePath, publicPath string, bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = 2048
	}
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("forgeframe: read private key: %w", err)
		}
		slog.Info("RSA key pair not found, generating new one", "private", privatePath, "public", publicPath, "bits", bits)
		return generateAndSave(privatePath, publicPath, bits)
	}

	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: read public key: %w", err)
	}
	return parseKeyPair(privPEM, pubPEM)
}

func generateAndSave(privatePath, publicPath string, bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: generate RSA key: %w", err)
	}

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	if privatePath != "" {
		if err := os.WriteFile(privatePath, privPEM, 0600); err != nil {
			return nil, fmt.Errorf("forgeframe: write private key: %w", err)
		}
	}
	if publicPath != "" {
		if err := os.WriteFile(publicPath, pubPEM, 0644); err != nil {
			return nil, fmt.Errorf("forgeframe: write public key: %w", err)
		}
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

func parseKeyPair(privPEM, pubPEM []byte) (*KeyPair, error) {
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, fmt.Errorf("forgeframe: invalid private key PEM")
	}
	priv, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: parse private key: %w", err)
	}

	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("forgeframe: invalid public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("forgeframe: public key is not RSA")
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

// LoadPublicKey reads and parses a peer's public key PEM file, for
// building a transport.TrustedKeys keyring entry.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pubPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: read peer public key: %w", err)
	}
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, fmt.Errorf("forgeframe: invalid peer public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: parse peer public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("forgeframe: peer public key is not RSA")
	}
	return pub, nil
}
