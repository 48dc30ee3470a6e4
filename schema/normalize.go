package schema

import "strings"

// ValidateSessionID ensures a session id matches [a-z0-9._-] with no normalization.
func ValidateSessionID(id SessionID) error {
	raw := string(id)
	if raw == "" {
		return ErrInvalidSessionID
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidSessionID
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidSessionID
	}
	return nil
}
