// Package config loads the daemon configuration from a YAML file and
// applies defaults for anything the file leaves out.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/hutch/hutchd.yaml"

const (
	defaultRemoteName = "release"
	defaultRemoteURL  = "https://images.hutch-vm.dev/release"
	defaultCatalogTTL = 5 * time.Minute
)

// Duration adds YAML support for "30s"-style duration strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the daemon configuration.
type Config struct {
	CacheDir      string            `yaml:"cache_dir"`
	Remotes       map[string]string `yaml:"remotes"`
	DefaultRemote string            `yaml:"default_remote"`
	CatalogTTL    Duration          `yaml:"catalog_ttl"`
	LogLevel      string            `yaml:"log_level"`
	LogFormat     string            `yaml:"log_format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cacheDir := "/var/cache/hutchd"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".cache", "hutchd")
	}

	return Config{
		CacheDir:      cacheDir,
		Remotes:       map[string]string{defaultRemoteName: defaultRemoteURL},
		DefaultRemote: defaultRemoteName,
		CatalogTTL:    Duration(defaultCatalogTTL),
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads the configuration at path, falling back to Default when the
// file does not exist. Settings present in the file override defaults;
// omitted settings keep them.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return config, nil
}

// Validate checks the configuration structure.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("cache_dir is required")
	}
	if len(c.Remotes) == 0 {
		return errors.New("at least one remote is required")
	}
	if _, ok := c.Remotes[c.DefaultRemote]; !ok {
		return fmt.Errorf("default_remote %q is not a configured remote", c.DefaultRemote)
	}
	if c.CatalogTTL < 0 {
		return errors.New("catalog_ttl must not be negative")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
