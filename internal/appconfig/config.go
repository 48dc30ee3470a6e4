package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/promptline/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Session       SessionConfig `mapstructure:"session" yaml:"session"`
	Shell         ShellConfig   `mapstructure:"shell" yaml:"shell"`
	SSH           SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SessionConfig controls prompt rendering, path display and transcript limits.
type SessionConfig struct {
	HostLabel          string   `mapstructure:"host_label" yaml:"host_label"`
	PromptSeparator    string   `mapstructure:"prompt_separator" yaml:"prompt_separator"`
	HomeAlias          string   `mapstructure:"home_alias" yaml:"home_alias"`
	HomeDir            string   `mapstructure:"home_dir" yaml:"home_dir"`
	StripPrefixes      []string `mapstructure:"strip_prefixes" yaml:"strip_prefixes"`
	HistoryMax         int      `mapstructure:"history_max" yaml:"history_max"`
	MaxTranscriptRunes int      `mapstructure:"max_transcript_runes" yaml:"max_transcript_runes"`
	LoopDepth          int      `mapstructure:"loop_depth" yaml:"loop_depth"`
}

// ShellConfig configures the command backend.
type ShellConfig struct {
	Path       string            `mapstructure:"path" yaml:"path"`
	Args       []string          `mapstructure:"args" yaml:"args"`
	Env        map[string]string `mapstructure:"env" yaml:"env"`
	WorkingDir string            `mapstructure:"working_dir" yaml:"working_dir"`
	// HomeRoot enables private per-user homes; SkelDir seeds new ones.
	HomeRoot string `mapstructure:"home_root" yaml:"home_root"`
	SkelDir  string `mapstructure:"skel_dir" yaml:"skel_dir"`
}

// SSHConfig configures the SSH server.
type SSHConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
	Theme              string `mapstructure:"theme" yaml:"theme"`
}

// HTTPConfig configures the HTTP control API. An empty addr disables it.
type HTTPConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	BasePath    string `mapstructure:"base_path" yaml:"base_path"`
	Token       string `mapstructure:"token" yaml:"token"`
	HistorySize int    `mapstructure:"history_size" yaml:"history_size"`
	TailLines   int    `mapstructure:"tail_lines" yaml:"tail_lines"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableCommandAudit bool `mapstructure:"disable_command_audit" yaml:"disable_command_audit"`
}

// SessionConfig converts the section into the core session config.
func (c SessionConfig) SessionConfig() schema.SessionConfig {
	return schema.SessionConfig{
		HostLabel:          c.HostLabel,
		PromptSeparator:    c.PromptSeparator,
		HomeAlias:          c.HomeAlias,
		HomeDir:            c.HomeDir,
		StripPrefixes:      append([]string{}, c.StripPrefixes...),
		HistoryMax:         c.HistoryMax,
		MaxTranscriptRunes: c.MaxTranscriptRunes,
		LoopDepth:          c.LoopDepth,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".promptline", "state"),
		Session: SessionConfig{
			HostLabel:          "",
			PromptSeparator:    schema.DefaultPromptSeparator,
			HomeAlias:          schema.DefaultHomeAlias,
			HomeDir:            home,
			StripPrefixes:      append([]string(nil), schema.DefaultStripPrefixes...),
			HistoryMax:         schema.DefaultHistoryMax,
			MaxTranscriptRunes: 1 << 20,
			LoopDepth:          schema.DefaultLoopDepth,
		},
		Shell: ShellConfig{
			Path:       "/bin/sh",
			Args:       []string{"-c"},
			Env:        map[string]string{},
			WorkingDir: home,
			HomeRoot:   "",
			SkelDir:    "",
		},
		SSH: SSHConfig{
			Addr:               ":27522",
			HostKeyPath:        filepath.Join(home, ".promptline", "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(home, ".promptline", "authorized_keys"),
			Theme:              string(schema.DefaultTheme),
		},
		HTTP: HTTPConfig{
			Addr:        "",
			BasePath:    "",
			Token:       "",
			HistorySize: 1000,
			TailLines:   0,
		},
		Logging: LoggingConfig{
			DisableCommandAudit: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".promptline", "config.yaml"), nil
}
