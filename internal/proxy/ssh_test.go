package proxy

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"golang.org/x/crypto/ssh"
)

func generateTestEd25519PEM(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(block))
}

func TestParseSSHSignerNoPassphrase(t *testing.T) {
	pemKey := generateTestEd25519PEM(t)
	signer, err := parseSSHSigner(pemKey, "")
	if err != nil {
		t.Fatalf("parseSSHSigner: %v", err)
	}
	if signer.PublicKey() == nil {
		t.Fatalf("expected a public key from signer")
	}
}

func TestParseSSHSignerInvalidKey(t *testing.T) {
	if _, err := parseSSHSigner("not a key", ""); err == nil {
		t.Fatalf("expected error parsing invalid key")
	}
}
