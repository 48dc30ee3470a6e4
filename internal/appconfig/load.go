package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/promptline/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("session.host_label", cfg.Session.HostLabel)
	v.SetDefault("session.prompt_separator", cfg.Session.PromptSeparator)
	v.SetDefault("session.home_alias", cfg.Session.HomeAlias)
	v.SetDefault("session.home_dir", cfg.Session.HomeDir)
	v.SetDefault("session.strip_prefixes", cfg.Session.StripPrefixes)
	v.SetDefault("session.history_max", cfg.Session.HistoryMax)
	v.SetDefault("session.max_transcript_runes", cfg.Session.MaxTranscriptRunes)
	v.SetDefault("session.loop_depth", cfg.Session.LoopDepth)
	v.SetDefault("shell.path", cfg.Shell.Path)
	v.SetDefault("shell.args", cfg.Shell.Args)
	v.SetDefault("shell.env", cfg.Shell.Env)
	v.SetDefault("shell.working_dir", cfg.Shell.WorkingDir)
	v.SetDefault("shell.home_root", cfg.Shell.HomeRoot)
	v.SetDefault("shell.skel_dir", cfg.Shell.SkelDir)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("ssh.theme", cfg.SSH.Theme)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.token", cfg.HTTP.Token)
	v.SetDefault("http.history_size", cfg.HTTP.HistorySize)
	v.SetDefault("http.tail_lines", cfg.HTTP.TailLines)
	v.SetDefault("logging.disable_command_audit", cfg.Logging.DisableCommandAudit)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.ContainsAny(cfg.Session.HostLabel, "\r\n") {
		return fmt.Errorf("session.host_label must be a single line")
	}
	if cfg.Session.MaxTranscriptRunes < 0 {
		return fmt.Errorf("session.max_transcript_runes must not be negative")
	}
	if strings.TrimSpace(cfg.Shell.Path) == "" {
		return fmt.Errorf("shell.path is required")
	}
	if cfg.SSH.Theme != "" {
		if _, ok := schema.NormalizeThemeName(cfg.SSH.Theme); !ok {
			return fmt.Errorf("ssh.theme %q is not one of %v", cfg.SSH.Theme, schema.AvailableThemes())
		}
	}
	if cfg.HTTP.HistorySize < 0 {
		return fmt.Errorf("http.history_size must not be negative")
	}
	if cfg.HTTP.TailLines < 0 {
		return fmt.Errorf("http.tail_lines must not be negative")
	}
	for _, prefix := range cfg.Session.StripPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("session.strip_prefixes entry %q must be an absolute path", prefix)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Session.HomeDir = expandEnv(cfg.Session.HomeDir)
	cfg.Shell.Path = expandEnv(cfg.Shell.Path)
	cfg.Shell.WorkingDir = expandEnv(cfg.Shell.WorkingDir)
	cfg.Shell.HomeRoot = expandEnv(cfg.Shell.HomeRoot)
	cfg.Shell.SkelDir = expandEnv(cfg.Shell.SkelDir)
	for key, value := range cfg.Shell.Env {
		cfg.Shell.Env[key] = expandEnv(value)
	}
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	cfg.HTTP.Token = expandEnv(cfg.HTTP.Token)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Marshal renders cfg as YAML in the config file layout.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
