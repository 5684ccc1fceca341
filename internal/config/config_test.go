package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"tankobon/internal/config"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if cfg.Fetcher.Binary != "gallery-dl" {
		t.Fatalf("unexpected default fetcher binary %q", cfg.Fetcher.Binary)
	}
	if cfg.Workers.DownloadRetries != 3 {
		t.Fatalf("unexpected default download retries %d", cfg.Workers.DownloadRetries)
	}
	if _, ok := cfg.LibraryPath("manga"); !ok {
		t.Fatal("expected default manga library")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[libraries]
comics = "` + dir + `/comics"

[workers]
count = 2
download_retries = 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s, got %s (exists=%v)", path, resolved, exists)
	}
	if cfg.Workers.Count != 2 {
		t.Fatalf("expected worker count 2, got %d", cfg.Workers.Count)
	}
	if cfg.Workers.DownloadRetries != 1 {
		t.Fatalf("expected 1 download retry, got %d", cfg.Workers.DownloadRetries)
	}
	libraryDir, ok := cfg.LibraryPath("comics")
	if !ok || libraryDir != filepath.Join(dir, "comics") {
		t.Fatalf("unexpected comics library %q (ok=%v)", libraryDir, ok)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no libraries", func(c *config.Config) { c.Libraries = nil }},
		{"empty broker url", func(c *config.Config) { c.Broker.URL = "" }},
		{"zero workers", func(c *config.Config) { c.Workers.Count = 0 }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
