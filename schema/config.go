package schema

import (
	"errors"
	"os"
	"strings"
)

// SessionConfig defines defaults and limits for a transcript session.
type SessionConfig struct {
	HostLabel       string
	PromptSeparator string
	HomeAlias       string
	HomeDir         string
	StripPrefixes   []string
	HistoryMax      int
	// MaxTranscriptRunes caps retained history; zero keeps everything.
	MaxTranscriptRunes int
	LoopDepth          int
}

const (
	// DefaultPromptSeparator follows the host label in every prompt.
	DefaultPromptSeparator = ": "
	// DefaultHomeAlias replaces the home directory in displayed output.
	DefaultHomeAlias = "~"
	// DefaultHistoryMax is the default number of remembered commands.
	DefaultHistoryMax = 200
	// DefaultLoopDepth is the default task queue depth of a session loop.
	DefaultLoopDepth = 256
)

// DefaultStripPrefixes lists canonicalization prefixes removed from absolute paths.
var DefaultStripPrefixes = []string{"/private"}

// NormalizeSessionConfig applies defaults and validates the config.
func NormalizeSessionConfig(cfg SessionConfig) (SessionConfig, error) {
	if strings.TrimSpace(cfg.HostLabel) == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "localhost"
		}
		if idx := strings.IndexByte(host, '.'); idx > 0 {
			host = host[:idx]
		}
		cfg.HostLabel = host
	}
	if strings.ContainsAny(cfg.HostLabel, "\r\n") {
		return SessionConfig{}, errors.New("host label must be a single line")
	}
	if cfg.PromptSeparator == "" {
		cfg.PromptSeparator = DefaultPromptSeparator
	}
	if cfg.HomeAlias == "" {
		cfg.HomeAlias = DefaultHomeAlias
	}
	if cfg.HomeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.HomeDir = home
		}
	}
	if cfg.StripPrefixes == nil {
		cfg.StripPrefixes = append([]string(nil), DefaultStripPrefixes...)
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultHistoryMax
	}
	if cfg.MaxTranscriptRunes < 0 {
		return SessionConfig{}, errors.New("max transcript runes must not be negative")
	}
	if cfg.LoopDepth <= 0 {
		cfg.LoopDepth = DefaultLoopDepth
	}
	return cfg, nil
}
