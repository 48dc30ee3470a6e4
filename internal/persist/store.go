package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
)

// UserState is what survives between sessions of one user. Transcript
// contents are never stored.
type UserState struct {
	History    []string `json:"history,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
}

// Store persists user state as one JSON file per user.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads the state of user. A missing file is not an error.
func (s *Store) Load(user string) (UserState, bool, error) {
	data, err := os.ReadFile(s.pathForUser(user))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "user", user)
			return UserState{}, false, nil
		}
		s.warn("state load failed", "user", user, "err", err)
		return UserState{}, false, err
	}
	var state UserState
	if err := json.Unmarshal(data, &state); err != nil {
		s.warn("state load failed", "user", user, "err", err)
		return UserState{}, false, err
	}
	s.debug("state load ok", "user", user, "history", len(state.History))
	return state, true, nil
}

// Save atomically replaces the state of user.
func (s *Store) Save(user string, state UserState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.warn("state save failed", "user", user, "err", err)
		return err
	}
	if err := writeAtomic(s.pathForUser(user), data); err != nil {
		s.warn("state save failed", "user", user, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "user", user, "history", len(state.History))
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}

func (s *Store) pathForUser(user string) string {
	name := sanitize(user)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
