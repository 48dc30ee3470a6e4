package sshserver

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"
)

// LoadAuthorizedKeys parses an OpenSSH authorized_keys file. Blank lines and
// comments are skipped; options in front of a key are accepted and ignored.
func LoadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("authorized keys path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}
	var keys []ssh.PublicKey
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parse authorized keys line %d: %w", i+1, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func keyAuthorized(keys []ssh.PublicKey, key gliderssh.PublicKey) bool {
	for _, candidate := range keys {
		if gliderssh.KeysEqual(candidate, key) {
			return true
		}
	}
	return false
}
