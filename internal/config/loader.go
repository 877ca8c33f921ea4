package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	// ConfigDir is the directory under ~/.config holding the dotfile.
	ConfigDir = "warden"
	// ConfigFile is the dotfile name.
	ConfigFile = "config.json"
)

// FileSystem is the file access surface the loader depends on, injected so
// tests never touch the real home directory.
type FileSystem interface {
	UserHomeDir() (string, error)
	ReadFile(path string) ([]byte, error)
}

// ConfigFileReader is the production FileSystem backed by the OS.
type ConfigFileReader struct{}

func (ConfigFileReader) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

func (ConfigFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Loader reads the kernel configuration dotfile.
type Loader struct {
	fs FileSystem
}

// NewLoader creates a Loader backed by the real filesystem.
func NewLoader() *Loader {
	return &Loader{fs: ConfigFileReader{}}
}

// NewLoaderWithFS creates a Loader with an injected filesystem (for testing).
func NewLoaderWithFS(fs FileSystem) *Loader {
	return &Loader{fs: fs}
}

// Load merges ~/.config/warden/config.json over the defaults and validates
// the result. A missing dotfile (or an unresolvable home directory) yields
// the plain defaults; malformed JSON, unreadable files and invalid merged
// values are errors.
//
// The dotfile is unmarshalled directly into the default Config, so a key
// that is present overrides its default even with a zero value, while
// absent keys keep theirs.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := l.fs.UserHomeDir()
	if err != nil {
		return cfg, nil
	}

	path := filepath.Join(homeDir, ".config", ConfigDir, ConfigFile)
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration using the default loader.
func Load() (*Config, error) {
	return NewLoader().Load()
}
