package config

import (
	"os"
	"path/filepath"
)

type StorageConfig interface {
	GetSessionFile() string
	GetSessionSecret() string
}

type Storage struct {
	SessionFile   string `yaml:"session_file" env:"SESSION_FILE"`
	SessionSecret string `yaml:"session_secret" env:"SESSION_SECRET"`
}

var _ StorageConfig = Storage{}

// GetSessionFile returns where the session record is persisted, defaulting to
// <user config dir>/finctl/session.json
func (s Storage) GetSessionFile() string {
	if s.SessionFile != "" {
		return s.SessionFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(dir, "finctl", "session.json")
}

// GetSessionSecret returns the secret used to seal the session file. Empty means plaintext.
func (s Storage) GetSessionSecret() string {
	return s.SessionSecret
}
