package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tankobon/internal/config"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func withConfigArgs(t *testing.T, args ...string) []string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.toml")
	return append([]string{"--config", configPath}, args...)
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := executeCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected output to mention %s, got %q", target, out)
	}

	out, err = executeCommand(t, "config", "init", "--path", target)
	if err == nil {
		t.Fatalf("expected error when config already exists, got output %q", out)
	}
}

func TestWatchListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/watched_urls" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"watched_urls": []map[string]any{
				{
					"series_folder_name":     "Alpha Strike",
					"series_urls":            []string{"https://comics.example.com/series/alpha"},
					"library":                "comics",
					"frequency":              "daily",
					"display_site_name":      "Comics Example",
					"missing_chapters_count": 2,
				},
			},
		})
	}))
	defer server.Close()

	out, err := executeCommand(t, withConfigArgs(t, "watch", "list", "--api", server.URL)...)
	if err != nil {
		t.Fatalf("watch list: %v", err)
	}
	for _, want := range []string{"Alpha Strike", "comics", "daily", "2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWatchListEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"watched_urls": []any{}})
	}))
	defer server.Close()

	out, err := executeCommand(t, withConfigArgs(t, "watch", "list", "--api", server.URL)...)
	if err != nil {
		t.Fatalf("watch list: %v", err)
	}
	if !strings.Contains(out, "No series are being watched.") {
		t.Fatalf("expected empty message, got %q", out)
	}
}

func TestWatchAddSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "invalid library selected"})
	}))
	defer server.Close()

	_, err := executeCommand(t, withConfigArgs(t,
		"watch", "add", "https://comics.example.com/series/x",
		"--library", "movies", "--api", server.URL)...)
	if err == nil {
		t.Fatal("expected error from API")
	}
	if !strings.Contains(err.Error(), "invalid library selected") {
		t.Fatalf("expected detail in error, got %v", err)
	}
}

func TestScheduleShowsNeverRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]*string{
			"daily":  nil,
			"weekly": nil,
		})
	}))
	defer server.Close()

	out, err := executeCommand(t, withConfigArgs(t, "schedule", "--api", server.URL)...)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !strings.Contains(out, "never run") {
		t.Fatalf("expected never run marker, got %q", out)
	}
}

func TestStatusRendersSections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"active_jobs":    []string{"Downloading: Chapter 0003"},
			"scheduled_jobs": []string{"Queued: Chapter 0004"},
			"stats":          map[string]int{"pending": 1, "running": 1},
		})
	}))
	defer server.Close()

	out, err := executeCommand(t, withConfigArgs(t, "status", "--api", server.URL)...)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Downloading: Chapter 0003", "Queued: Chapter 0004", "pending"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestAPIBaseFallsBackToDefaultBind(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("not valid toml ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	apiFlag := ""
	ctx := newCommandContext(&apiFlag, &configPath)

	want := "http://" + config.Default().Paths.APIBind
	if got := ctx.apiBase(); got != want {
		t.Fatalf("apiBase() = %q, want %q", got, want)
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable(
		[]string{"Name", "Count"},
		[][]string{{"alpha", "10"}, {"beta", "2"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "beta") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}
