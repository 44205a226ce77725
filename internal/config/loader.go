package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

// Load reads and validates the config for a fleet root. Fields absent from
// the file keep their defaults, so a minimal config.toml is valid.
func Load(root string) (*Config, error) {
	return LoadFile(constants.ConfigPath(root))
}

// LoadFile reads and validates a config file at an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config.toml content over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a fleet root, creating .shepherd/ if needed.
// Used by `shep init`; day-to-day edits are made by hand.
func Save(root string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := constants.ConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("# Shepherd fleet configuration. Durations are Go duration strings (\"90s\", \"15m\").\n"); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
