package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Settings holds the daemon-level locations that aren't part of any one
// profile: where profile documents, state files, and logs live. These
// are sourced from the environment (caarlos0/env, struct-tag driven)
// rather than from any profile document.
type Settings struct {
	ConfigDir string `env:"FILESYNC_CONFIG_DIR"`
	StateDir  string `env:"FILESYNC_STATE_DIR"`
	LogDir    string `env:"FILESYNC_LOG_DIR"`
}

// LoadSettings parses Settings from the environment, defaulting
// ConfigDir to ~/.config/filesync and StateDir/LogDir to subdirectories
// of it when unset.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, err
	}
	if s.ConfigDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Settings{}, err
		}
		s.ConfigDir = filepath.Join(home, ".config", "filesync")
	}
	if s.StateDir == "" {
		s.StateDir = filepath.Join(s.ConfigDir, "state")
	}
	if s.LogDir == "" {
		s.LogDir = filepath.Join(s.ConfigDir, "logs")
	}
	return s, nil
}

// ProfilesDir is the directory under ConfigDir holding profile
// documents, one `<name>.yml` file per profile.
func (s Settings) ProfilesDir() string {
	return filepath.Join(s.ConfigDir, "profiles")
}

// ProfilePath resolves the document path for a named profile.
func (s Settings) ProfilePath(name string) string {
	return filepath.Join(s.ProfilesDir(), name+".yml")
}
