// Package config handles zentools.toml run configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by the CLI.
const FileName = "zentools.toml"

// Config is a zentools.toml run configuration.
type Config struct {
	ContainerDir   string `toml:"container_dir"`
	OutputDir      string `toml:"output_dir"`
	EncryptionKeys string `toml:"encryption_keys"`
	Workers        int    `toml:"workers"`
	Log            Log    `toml:"log"`
	// Pointers so an explicit false in the file survives defaulting.
	WriteScriptObjects *bool `toml:"write_script_objects"`
	WriteManifest      *bool `toml:"write_manifest"`

	// Dir is the directory containing the loaded file, empty for defaults.
	Dir string `toml:"-"`
}

// Log configures the CLI logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses the configuration file at path. Relative paths inside the file
// are resolved against its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.ContainerDir = c.resolve(c.ContainerDir)
	c.OutputDir = c.resolve(c.OutputDir)
	c.EncryptionKeys = c.resolve(c.EncryptionKeys)

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// LoadOptional loads path when it exists and returns defaults otherwise.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.WriteScriptObjects == nil {
		c.WriteScriptObjects = boolPtr(true)
	}
	if c.WriteManifest == nil {
		c.WriteManifest = boolPtr(true)
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func boolPtr(v bool) *bool { return &v }
