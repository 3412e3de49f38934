package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional cpdr configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Theme    ThemeConfig    `toml:"theme"`
}

// DefaultsConfig holds persistent flag defaults. A nil field means the
// built-in default applies.
type DefaultsConfig struct {
	Workers        *int     `toml:"workers"`
	FollowSymlinks *bool    `toml:"follow_symlinks"`
	Overwrite      *bool    `toml:"overwrite"`
	FailFast       *bool    `toml:"fail_fast"`
	Preserve       *bool    `toml:"preserve"`
	Format         *string  `toml:"format"`
	Depth          *int     `toml:"depth"`
	BWLimit        *string  `toml:"bwlimit"`
	Ignore         []string `toml:"ignore"` // replaces the built-in ignore list when set
}

// ThemeConfig holds optional color overrides for the summary line.
type ThemeConfig struct {
	Success *string `toml:"success"`
	Failure *string `toml:"failure"`
	Muted   *string `toml:"muted"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "cpdr", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file yields a zero Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}
