// Package config loads the flasharc configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvStore    = "FLASHARC_STORE"
	EnvLogLevel = "FLASHARC_LOG_LEVEL"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = ".flasharc.yaml"

// Config is the on-disk configuration.
type Config struct {
	StoreDir         string `yaml:"store_dir"`
	Compress         bool   `yaml:"compress"`
	CompressionLevel int    `yaml:"compression_level"`
	CacheSize        int    `yaml:"cache_size"`
	Mmap             bool   `yaml:"mmap"`
	Catalog          bool   `yaml:"catalog"`
	LogLevel         string `yaml:"log_level"`
	Remote           Remote `yaml:"remote"`
}

// Remote configures the default push and pull bucket.
type Remote struct {
	Type      string `yaml:"type"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Insecure  bool   `yaml:"insecure"`
	Directory string `yaml:"directory"`
}

// Configured reports whether a remote was set.
func (r Remote) Configured() bool { return r.Type != "" }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StoreDir:         defaultStoreDir(),
		Compress:         false,
		CompressionLevel: 3,
		CacheSize:        10,
		Mmap:             true,
		Catalog:          true,
		LogLevel:         "info",
	}
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flasharc"
	}
	return filepath.Join(home, ".flasharc", "archives")
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. An empty path means DefaultFile in the
// working directory.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvStore); v != "" {
		cfg.StoreDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.StoreDir == "" {
		return errors.New("store_dir must not be empty")
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("compression_level must be between 1 and 4, got %d", c.CompressionLevel)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Remote.Type {
	case "", "s3", "gcs", "file":
	default:
		return fmt.Errorf("unknown remote type %q", c.Remote.Type)
	}
	return nil
}

// Save writes c to path as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
