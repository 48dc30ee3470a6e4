package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func writeAuthorizedKeys(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "authorized_keys")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write authorized keys: %v", err)
	}
	return path
}

func TestLoadAuthorizedKeys(t *testing.T) {
	allowed := newTestSigner(t)
	other := newTestSigner(t)
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(allowed.PublicKey())))
	path := writeAuthorizedKeys(t, t.TempDir(),
		"# operators",
		"",
		`no-port-forwarding,command="true" `+line+" me@box",
		"# trailing comment",
	)
	keys, err := LoadAuthorizedKeys(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}
	if !keyAuthorized(keys, allowed.PublicKey()) {
		t.Fatalf("expected key to be authorized")
	}
	if keyAuthorized(keys, other.PublicKey()) {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestLoadAuthorizedKeysErrors(t *testing.T) {
	if _, err := LoadAuthorizedKeys(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadAuthorizedKeys(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := writeAuthorizedKeys(t, t.TempDir(), "ssh-ed25519 not-base64")
	if _, err := LoadAuthorizedKeys(path); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected parse error with line number, got %v", err)
	}
}
