package core

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"pkt.systems/promptline/schema"
)

// NewSessionID returns a random id that starts with prefix folded into the
// session id alphabet, e.g. "alice-3f2a9c0177d1e4b2".
func NewSessionID(prefix string) schema.SessionID {
	var buf [8]byte
	suffix := "unknown"
	if _, err := rand.Read(buf[:]); err == nil {
		suffix = hex.EncodeToString(buf[:])
	}
	prefix = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(prefix))
	if prefix == "" {
		return schema.SessionID(suffix)
	}
	return schema.SessionID(prefix + "-" + suffix)
}
