// Package config handles garnet.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/garnet/vm"
)

// FileName is the name of the configuration file.
const FileName = "garnet.toml"

// Config represents a garnet.toml configuration.
type Config struct {
	Dispatch Dispatch `toml:"dispatch"`
	Globals  Globals  `toml:"globals"`
	Log      Log      `toml:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-"`
}

// Dispatch configures inline caching.
type Dispatch struct {
	CacheDepthLimit int    `toml:"cache-depth-limit"`
	Missing         string `toml:"missing"`
}

// Globals configures global variable storage.
type Globals struct {
	MaxInvalidations int `toml:"max-invalidations"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	opts := vm.DefaultOptions()
	return &Config{
		Dispatch: Dispatch{
			CacheDepthLimit: opts.CacheDepthLimit,
			Missing:         opts.Missing.String(),
		},
		Globals: Globals{MaxInvalidations: opts.GlobalVariableMaxInvalidations},
	}
}

// Load parses the garnet.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file. Keys missing from the file keep their
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a garnet.toml file, then loads
// and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Dispatch.CacheDepthLimit < 0 {
		return fmt.Errorf("dispatch.cache-depth-limit must not be negative, got %d", c.Dispatch.CacheDepthLimit)
	}
	if c.Globals.MaxInvalidations < 0 {
		return fmt.Errorf("globals.max-invalidations must not be negative, got %d", c.Globals.MaxInvalidations)
	}
	if _, err := vm.ParseMissingBehavior(c.Dispatch.Missing); err != nil {
		return fmt.Errorf("dispatch.missing: %w", err)
	}
	return nil
}

// Options converts the configuration into runtime options.
func (c *Config) Options() (vm.Options, error) {
	missing, err := vm.ParseMissingBehavior(c.Dispatch.Missing)
	if err != nil {
		return vm.Options{}, err
	}
	return vm.Options{
		CacheDepthLimit:                c.Dispatch.CacheDepthLimit,
		GlobalVariableMaxInvalidations: c.Globals.MaxInvalidations,
		Missing:                        missing,
	}, nil
}

// LogPath returns the log file path, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	return &c.Log.Path
}
