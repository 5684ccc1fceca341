// Package fetcher wraps the gallery-dl command line tool for chapter
// discovery and download.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"tankobon/internal/config"
)

var commandContext = exec.CommandContext

// Client defines gallery-dl behaviour.
type Client interface {
	// Discover runs a metadata dump against a series URL and returns the
	// raw JSON document describing its chapters.
	Discover(ctx context.Context, seriesURL string, extraArgs []string) ([]byte, error)
	// Download fetches one chapter URL into destDir.
	Download(ctx context.Context, chapterURL, destDir string, extraArgs []string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithConfigPath points the tool at a specific configuration file.
func WithConfigPath(path string) Option {
	return func(c *CLI) {
		c.configPath = path
	}
}

// CLI wraps the gallery-dl command-line tool.
type CLI struct {
	binary     string
	configPath string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "gallery-dl"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// FromConfig builds a client from daemon configuration.
func FromConfig(cfg *config.Config) *CLI {
	return NewCLI(WithBinary(cfg.Fetcher.Binary), WithConfigPath(cfg.Fetcher.ConfigPath))
}

func (c *CLI) baseArgs() []string {
	args := make([]string, 0, 4)
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	return args
}

// Discover launches a --dump-json run and returns stdout.
func (c *CLI) Discover(ctx context.Context, seriesURL string, extraArgs []string) ([]byte, error) {
	if strings.TrimSpace(seriesURL) == "" {
		return nil, errors.New("series url required")
	}

	args := c.baseArgs()
	args = append(args, "--dump-json")
	args = append(args, extraArgs...)
	args = append(args, seriesURL)

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("discovery failed for %s: %w: %s", seriesURL, err, firstLine(&stderr, &stdout))
	}
	return stdout.Bytes(), nil
}

// Download fetches a single chapter URL into destDir.
func (c *CLI) Download(ctx context.Context, chapterURL, destDir string, extraArgs []string) error {
	if strings.TrimSpace(chapterURL) == "" {
		return errors.New("chapter url required")
	}
	if strings.TrimSpace(destDir) == "" {
		return errors.New("destination directory required")
	}

	args := c.baseArgs()
	args = append(args, "--directory", destDir, "--verbose")
	args = append(args, extraArgs...)
	args = append(args, chapterURL)

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("download failed for %s: %w: %s", chapterURL, err, firstLine(&stderr, &stdout))
	}
	return nil
}

// firstLine returns the first non-empty diagnostic line from the buffers,
// preferring stderr.
func firstLine(buffers ...*bytes.Buffer) string {
	for _, buf := range buffers {
		for _, line := range strings.Split(buf.String(), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				return line
			}
		}
	}
	return "no output"
}

var _ Client = (*CLI)(nil)
