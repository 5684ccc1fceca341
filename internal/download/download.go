// Package download fetches a single chapter, packages it into an archive
// in the series folder, and notifies on success.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tankobon/internal/config"
	"tankobon/internal/fetcher"
	"tankobon/internal/library"
	"tankobon/internal/logging"
	"tankobon/internal/notifications"
	"tankobon/internal/queue"
	"tankobon/internal/solver"
	"tankobon/internal/textutil"
)

// Request is the payload of a download job.
type Request struct {
	URL         string `json:"url"`
	SeriesPath  string `json:"series_path"`
	ChapterName string `json:"chapter_name"`
	UseSolver   bool   `json:"use_solver"`
}

// Result reports the outcome of a completed download job.
type Result struct {
	Status      string `json:"status"`
	URL         string `json:"url"`
	ChapterName string `json:"chapter_name"`
}

// Task downloads chapters. It implements the worker handler contract for
// download jobs.
type Task struct {
	cfg    *config.Config
	fetch  fetcher.Client
	solve  solver.Client
	notify notifications.Service
	logger *slog.Logger
}

// NewTask constructs a download task.
func NewTask(cfg *config.Config, fetch fetcher.Client, solve solver.Client, notify notifications.Service, logger *slog.Logger) *Task {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Task{
		cfg:    cfg,
		fetch:  fetch,
		solve:  solve,
		notify: notify,
		logger: logging.NewComponentLogger(logger, "download"),
	}
}

// Kind reports the job kind this task handles.
func (t *Task) Kind() queue.Kind { return queue.KindDownload }

// Handle decodes the job payload and runs the download.
func (t *Task) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var req Request
	if err := job.UnmarshalPayload(&req); err != nil {
		return nil, queue.Terminal(err)
	}
	return t.Run(ctx, req)
}

// Run executes one chapter download: direct fetch first, then a solver
// assisted retry when enabled, then sidecar generation and archive
// packing. The staging directory and any cookie file are removed on all
// paths. Errors are retryable unless wrapped as terminal.
func (t *Task) Run(ctx context.Context, req Request) (*Result, error) {
	logger := t.logger.With(
		logging.String(logging.FieldSourceURL, req.URL),
		logging.String(logging.FieldChapter, req.ChapterName),
	)

	safeName := textutil.SanitizeFileName(req.ChapterName)
	chapterDir := filepath.Join(req.SeriesPath, safeName)
	if err := os.MkdirAll(chapterDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(chapterDir)

	logger.Info("direct download attempt")
	directErr := t.fetch.Download(ctx, req.URL, chapterDir, nil)
	succeeded := directErr == nil && dirHasEntries(chapterDir)

	if !succeeded {
		if !req.UseSolver {
			if directErr != nil {
				return nil, fmt.Errorf("direct download failed and solver is disabled: %w", directErr)
			}
			return nil, errors.New("direct download produced no files and solver is disabled")
		}

		logger.Info("direct download failed, retrying through solver", logging.Error(directErr))
		if err := os.RemoveAll(chapterDir); err != nil {
			return nil, fmt.Errorf("clear staging directory: %w", err)
		}
		if err := os.MkdirAll(chapterDir, 0o755); err != nil {
			return nil, fmt.Errorf("recreate staging directory: %w", err)
		}

		session, err := t.solve.Solve(ctx, req.URL)
		if err != nil {
			return nil, fmt.Errorf("solver session: %w", err)
		}
		args, cookiePath, err := session.FetcherArgs("")
		if err != nil {
			return nil, err
		}
		defer os.Remove(cookiePath)

		if err := t.fetch.Download(ctx, req.URL, chapterDir, args); err != nil {
			return nil, fmt.Errorf("solver assisted download: %w", err)
		}
	}

	if !dirHasEntries(chapterDir) {
		// The tool reported success but produced nothing. Another
		// attempt would do the same, so fail outright.
		return nil, queue.Terminal(errors.New("chapter directory empty after download"))
	}

	if err := library.WriteComicInfo(chapterDir, req.ChapterName); err != nil {
		return nil, err
	}

	dest := library.ArchivePath(req.SeriesPath, req.ChapterName)
	if err := library.PackArchive(chapterDir, dest); err != nil {
		return nil, err
	}
	logger.Info("chapter archived", logging.String("archive", dest))

	if err := t.notify.NotifyChapterDownloaded(ctx, req.URL); err != nil {
		logger.Warn("webhook notification failed", logging.Error(err))
	}

	return &Result{Status: "Completed", URL: req.URL, ChapterName: req.ChapterName}, nil
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// MaxAttempts returns the total attempt budget for download jobs given
// the configured retry count.
func MaxAttempts(cfg *config.Config) int {
	retries := cfg.Workers.DownloadRetries
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}
