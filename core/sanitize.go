package core

import (
	"path/filepath"
	"strings"
)

// Sanitizer rewrites paths in backend output for display. Canonicalization
// prefixes are stripped first, then the home directory is replaced by its
// alias, so both spellings of a home path collapse to the same text.
type Sanitizer struct {
	home     string
	alias    string
	prefixes []string
}

// NewSanitizer builds a sanitizer. An empty home disables alias substitution.
func NewSanitizer(home, alias string, prefixes []string) *Sanitizer {
	s := &Sanitizer{alias: alias}
	if home = strings.TrimSpace(home); home != "" {
		home = filepath.Clean(home)
		if home != "/" {
			s.home = home
		}
	}
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" || !strings.HasPrefix(p, "/") {
			continue
		}
		s.prefixes = append(s.prefixes, p)
	}
	if s.home != "" {
		// The home directory itself may be spelled with a prefix.
		s.home = s.stripPrefixes(s.home)
	}
	return s
}

// Sanitize returns text with prefixes stripped and the home path aliased.
func (s *Sanitizer) Sanitize(text string) string {
	if s == nil || text == "" {
		return text
	}
	text = s.stripPrefixes(text)
	if s.home == "" || s.alias == "" {
		return text
	}
	return s.aliasHome(text)
}

// DisplayPath sanitizes a single path.
func (s *Sanitizer) DisplayPath(path string) string {
	return s.Sanitize(path)
}

func (s *Sanitizer) stripPrefixes(text string) string {
	for {
		next := text
		for _, prefix := range s.prefixes {
			next = replaceAtPathStart(next, prefix+"/", "/")
		}
		if next == text {
			return text
		}
		text = next
	}
}

func (s *Sanitizer) aliasHome(text string) string {
	var b strings.Builder
	rest := text
	offset := 0
	for {
		idx := strings.Index(rest, s.home)
		if idx < 0 {
			break
		}
		abs := offset + idx
		end := abs + len(s.home)
		if pathStart(text, abs) && pathEnd(text, end) {
			b.WriteString(text[offset:abs])
			b.WriteString(s.alias)
			offset = end
			rest = text[offset:]
			continue
		}
		b.WriteString(text[offset : abs+1])
		offset = abs + 1
		rest = text[offset:]
	}
	if offset == 0 {
		return text
	}
	b.WriteString(text[offset:])
	return b.String()
}

// replaceAtPathStart replaces old with repl wherever old begins a path.
func replaceAtPathStart(text, old, repl string) string {
	if !strings.Contains(text, old) {
		return text
	}
	var b strings.Builder
	offset := 0
	for {
		idx := strings.Index(text[offset:], old)
		if idx < 0 {
			break
		}
		abs := offset + idx
		if pathStart(text, abs) {
			b.WriteString(text[offset:abs])
			b.WriteString(repl)
			offset = abs + len(old)
			continue
		}
		b.WriteString(text[offset : abs+1])
		offset = abs + 1
	}
	b.WriteString(text[offset:])
	return b.String()
}

// pathStart reports whether a path may begin at text[i].
func pathStart(text string, i int) bool {
	if i == 0 {
		return true
	}
	switch text[i-1] {
	case ' ', '\t', '\n', '\r', '"', '\'', '`', '=', ':', '(', '[', '<', ',', ';':
		return true
	case 'm':
		return afterSGR(text, i-1)
	}
	return false
}

// afterSGR reports whether the 'm' at text[i] terminates an SGR sequence.
func afterSGR(text string, i int) bool {
	j := i - 1
	for j >= 0 && (text[j] >= '0' && text[j] <= '9' || text[j] == ';' || text[j] == ':') {
		j--
	}
	return j >= 1 && text[j] == '[' && text[j-1] == 0x1b
}

// pathEnd reports whether a path component ends at text[i].
func pathEnd(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	c := text[i]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '_' || c == '-' || c == '.':
		return false
	}
	return true
}
