package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.SitesConfig, err = expandPath(c.Paths.SitesConfig); err != nil {
		return err
	}
	if c.Fetcher.ConfigPath, err = expandPath(c.Fetcher.ConfigPath); err != nil {
		return err
	}
	for name, dir := range c.Libraries {
		expanded, err := expandPath(dir)
		if err != nil {
			return err
		}
		c.Libraries[name] = expanded
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Broker.URL = strings.TrimSpace(c.Broker.URL)
	c.Fetcher.Binary = strings.TrimSpace(c.Fetcher.Binary)
	c.Solver.URL = strings.TrimSpace(c.Solver.URL)
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return fmt.Errorf("paths.log_dir must be set")
	}
	if len(c.Libraries) == 0 {
		return fmt.Errorf("at least one library must be configured")
	}
	for name, dir := range c.Libraries {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("library names must not be empty")
		}
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("library %q has an empty directory", name)
		}
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url must be set")
	}
	if c.Fetcher.Binary == "" {
		return fmt.Errorf("fetcher.binary must be set")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.QueuePollInterval <= 0 {
		return fmt.Errorf("workers.queue_poll_interval must be positive, got %d", c.Workers.QueuePollInterval)
	}
	if c.Workers.DownloadRetries < 0 {
		return fmt.Errorf("workers.download_retries must not be negative, got %d", c.Workers.DownloadRetries)
	}
	if c.Workers.RetryDelay < 0 {
		return fmt.Errorf("workers.retry_delay must not be negative, got %d", c.Workers.RetryDelay)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}
