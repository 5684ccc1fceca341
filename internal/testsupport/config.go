package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tankobon/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SitesConfig = filepath.Join(base, "sites.json")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Libraries = map[string]string{
		"comics": filepath.Join(base, "comics"),
		"manga":  filepath.Join(base, "manga"),
	}
	cfg.Workers.RetryDelay = 0
	cfg.Workers.QueuePollInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	// An empty but valid sites config: operations that need profiles treat
	// a missing file as fatal. Tests that scrape overwrite this file.
	if err := os.WriteFile(cfg.Paths.SitesConfig, []byte("[]"), 0o644); err != nil {
		t.Fatalf("write sites config: %v", err)
	}
	return &cfg
}

// WithLibraries replaces the library map on the test config.
func WithLibraries(libraries map[string]string) ConfigOption {
	return func(c *config.Config) {
		c.Libraries = libraries
	}
}
