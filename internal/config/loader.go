package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/privilege"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// maxConfigSize bounds the config file read.
const maxConfigSize = 1 << 20

// Loader handles loading and saving the config file.
type Loader struct {
	fs      afero.Fs
	homeDir string
}

// NewLoader creates a config loader on fs.
// The base directory is resolved in this order:
//  1. PTRSCAN_CONFIG environment variable.
//  2. The home directory of the user who invoked sudo, or the current user.
//  3. /tmp/ptrscan-fallback.
func NewLoader(fs afero.Fs) *Loader {
	if baseDir := os.Getenv(constants.ConfigEnvVar); baseDir != "" {
		return &Loader{fs: fs, homeDir: baseDir}
	}

	if u, err := privilege.DetectOriginalUser(); err == nil && u.HomeDir != "" {
		return &Loader{fs: fs, homeDir: u.HomeDir}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return &Loader{fs: fs, homeDir: homeDir}
	}

	return &Loader{fs: fs, homeDir: "/tmp/ptrscan-fallback"}
}

// ConfigPath returns the default config file path.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.homeDir, constants.DefaultDir, constants.ConfigFile)
}

// Load reads the config at path, or at ConfigPath when path is empty.
// A missing default file yields DefaultConfig; a missing explicit file is an
// error. Environment overrides are applied before validation.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = l.ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := safe.ReadFile(l.fs, path, &safe.ReadFileOptions{MaxSize: maxConfigSize})
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes cfg to the default path. Under sudo the file is handed back to
// the invoking user.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := l.ConfigPath()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = safe.WriteFileAtomic(l.fs, path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if _, ok := l.fs.(*afero.OsFs); ok {
		return privilege.FixOwnership(filepath.Dir(path), path)
	}
	return nil
}

// MergeFromEnv merges environment variables into an existing config.
func MergeFromEnv(cfg *Config) error {
	return LoadFromEnv(cfg)
}

func decode(data []byte, cfg *Config) error {
	if len(data) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%v: %w", err, perrors.ErrFormat)
	}
	return nil
}
