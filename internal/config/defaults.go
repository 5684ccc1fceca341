package config

// Default returns the baseline configuration before file overrides are applied.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     "~/.local/share/tankobon",
			LogDir:      "~/.local/share/tankobon/logs",
			SitesConfig: "~/.config/tankobon/sites.json",
			APIBind:     "127.0.0.1:8750",
		},
		Libraries: map[string]string{
			"comics":   "~/downloads/comics",
			"manga":    "~/downloads/manga",
			"artbooks": "~/downloads/artbooks",
		},
		Broker: Broker{
			URL: "redis://localhost:6379/0",
		},
		Fetcher: Fetcher{
			Binary:     "gallery-dl",
			ConfigPath: "~/.config/tankobon/gallery-dl.conf",
			Timeout:    1800,
		},
		Solver: Solver{
			URL:        "http://localhost:8191/v1",
			Timeout:    65,
			MaxSolveMS: 60000,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		Workers: Workers{
			Count:              4,
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			DownloadRetries:    3,
			RetryDelay:         300,
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
	}
}
