// Package prefs is the durable key-value store for per-profile state,
// currently just the favorites set. Values live in a TOML file under the
// user config dir; a missing or corrupt file degrades to an empty store.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const defaultFileName = "prefs.toml"

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

type fileStore struct {
	path   string
	values map[string]string
}

// NewFileStore loads the store at path, or the default
// ~/.config/looklinks/prefs.toml when path is empty. Load failures are
// logged and yield an empty store; they never fail initialization.
func NewFileStore(path string) Store {
	resolved, err := resolvePath(path)
	if err != nil {
		log.Warn().Err(err).Msg("Could not resolve prefs path, preferences will not persist")
		return &fileStore{values: map[string]string{}}
	}

	s := &fileStore{path: resolved, values: map[string]string{}}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", resolved).Msg("Could not read prefs file, starting empty")
		}
		return s
	}
	if err := toml.Unmarshal(data, &s.values); err != nil {
		log.Warn().Err(err).Str("path", resolved).Msg("Corrupt prefs file, starting empty")
		s.values = map[string]string{}
	}
	return s
}

func (s *fileStore) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *fileStore) Set(key, value string) error {
	s.values[key] = value
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	data, err := toml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return filepath.Abs(path)
	}
	if env := os.Getenv("LOOKLINKS_PREFS"); env != "" {
		return filepath.Abs(env)
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(configDir, "looklinks", defaultFileName), nil
}
