package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	defaults := Default()
	if config.CacheDir != defaults.CacheDir {
		t.Fatalf("cache dir = %q, want default %q", config.CacheDir, defaults.CacheDir)
	}
	if config.DefaultRemote != defaults.DefaultRemote {
		t.Fatalf("default remote = %q", config.DefaultRemote)
	}
	if config.CatalogTTL != defaults.CatalogTTL {
		t.Fatalf("catalog ttl = %v", config.CatalogTTL)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hutchd.yaml")
	content := `
cache_dir: /srv/hutch/cache
remotes:
  release: https://images.example/release
  daily: https://images.example/daily
default_remote: daily
catalog_ttl: 30s
log_level: debug
log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if config.CacheDir != "/srv/hutch/cache" {
		t.Fatalf("cache dir = %q", config.CacheDir)
	}
	if len(config.Remotes) != 2 {
		t.Fatalf("remotes = %v", config.Remotes)
	}
	if config.DefaultRemote != "daily" {
		t.Fatalf("default remote = %q", config.DefaultRemote)
	}
	if config.CatalogTTL != Duration(30*time.Second) {
		t.Fatalf("catalog ttl = %v", config.CatalogTTL)
	}
	if config.LogLevel != "debug" || config.LogFormat != "json" {
		t.Fatalf("log settings = %q, %q", config.LogLevel, config.LogFormat)
	}
}

func TestLoadRejectsUnknownDefaultRemote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hutchd.yaml")
	content := `
remotes:
  release: https://images.example/release
default_remote: nightly
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("unknown default_remote accepted")
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hutchd.yaml")
	if err := os.WriteFile(path, []byte("cache_dir: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("invalid yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	config.CacheDir = ""
	if err := config.Validate(); err == nil {
		t.Fatal("empty cache_dir accepted")
	}

	config = Default()
	config.Remotes = nil
	if err := config.Validate(); err == nil {
		t.Fatal("empty remotes accepted")
	}

	config = Default()
	config.CatalogTTL = Duration(-time.Second)
	if err := config.Validate(); err == nil {
		t.Fatal("negative catalog_ttl accepted")
	}
}
