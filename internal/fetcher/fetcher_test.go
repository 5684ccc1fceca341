package fetcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestNewCLIWithBinary(t *testing.T) {
	cli := NewCLI(WithBinary("/opt/gallery-dl"))
	if cli.binary != "/opt/gallery-dl" {
		t.Fatalf("expected binary override to be applied, got %q", cli.binary)
	}
}

func TestDiscoverRequiresURL(t *testing.T) {
	cli := NewCLI()
	if _, err := cli.Discover(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error when series url is empty")
	}
}

func TestDownloadRequiresArguments(t *testing.T) {
	cli := NewCLI()
	if err := cli.Download(context.Background(), "", "/library", nil); err == nil {
		t.Fatal("expected error when chapter url is empty")
	}
	if err := cli.Download(context.Background(), "https://example.com/c/1", "", nil); err == nil {
		t.Fatal("expected error when destination is empty")
	}
}

func captureCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	var captured []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FETCHER_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return &captured
}

func TestDiscoverBuildsDumpJSONCommand(t *testing.T) {
	captured := captureCommand(t, "discover")

	cli := NewCLI(WithConfigPath("/etc/tankobon/gallery-dl.conf"))
	output, err := cli.Discover(context.Background(), "https://example.com/series/alpha", []string{"--user-agent", "ua"})
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if !strings.Contains(string(output), "[") {
		t.Fatalf("expected JSON output, got %q", output)
	}

	joined := strings.Join(*captured, " ")
	for _, want := range []string{
		"--config /etc/tankobon/gallery-dl.conf",
		"--dump-json",
		"--user-agent ua",
		"https://example.com/series/alpha",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected command to contain %q, got %v", want, *captured)
		}
	}
}

func TestDownloadBuildsDirectoryCommand(t *testing.T) {
	captured := captureCommand(t, "success")

	cli := NewCLI()
	err := cli.Download(context.Background(), "https://example.com/c/12", "/library/staging/ch12", nil)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}

	joined := strings.Join(*captured, " ")
	for _, want := range []string{"--directory /library/staging/ch12", "--verbose", "https://example.com/c/12"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected command to contain %q, got %v", want, *captured)
		}
	}
}

func TestDownloadSurfacesStderr(t *testing.T) {
	captureCommand(t, "failure")

	cli := NewCLI()
	err := cli.Download(context.Background(), "https://example.com/c/12", "/library/staging/ch12", nil)
	if err == nil {
		t.Fatal("expected failure to propagate")
	}
	if !strings.Contains(err.Error(), "403 Forbidden") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FETCHER_HELPER_MODE") {
	case "discover":
		fmt.Println(`[["Url", "https://example.com/c/1"]]`)
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "request failed: 403 Forbidden")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
