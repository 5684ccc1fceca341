package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tankobon/internal/library"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scrape"
	"tankobon/internal/textutil"
)

// RefreshCoverRequest is the payload of a cover refresh job.
type RefreshCoverRequest struct {
	FolderName string `json:"series_folder_name"`
	SourceURL  string `json:"source_url"`
	Library    string `json:"library"`
	UseSolver  bool   `json:"use_solver"`
}

// BulkAddRequest is the payload of a bulk watch import job.
type BulkAddRequest struct {
	URLs      []string           `json:"urls"`
	Library   string             `json:"library"`
	Frequency registry.Frequency `json:"frequency"`
}

// BulkAddResult summarizes a bulk import run.
type BulkAddResult struct {
	Added   int `json:"added"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}

// RefreshMetadata discards the cached metadata of a series and queues a
// fresh discovery run to rebuild it.
func (o *Orchestrator) RefreshMetadata(ctx context.Context, req Request) (*Result, error) {
	libraryRoot, ok := o.cfg.LibraryPath(req.Library)
	if !ok {
		return nil, fmt.Errorf("unknown library %q", req.Library)
	}
	seriesPath := library.SeriesPath(libraryRoot, req.FolderName)

	if err := os.Remove(library.SeriesJSONPath(seriesPath)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove series metadata: %w", err)
	}
	if err := o.registry.DeleteChapterLabels(ctx, req.FolderName); err != nil {
		return nil, err
	}

	if _, err := o.store.Enqueue(ctx, queue.KindDiscovery, req.FolderName, req); err != nil {
		return nil, fmt.Errorf("enqueue discovery: %w", err)
	}
	return &Result{Status: "Success", Message: "Metadata refresh initiated."}, nil
}

// RefreshCover re-scrapes the cover image of a series from one source
// page. The solver must be enabled for the series.
func (o *Orchestrator) RefreshCover(ctx context.Context, req RefreshCoverRequest) (*Result, error) {
	if !req.UseSolver {
		return nil, queue.Terminal(errors.New("cover refresh requires the solver"))
	}

	libraryRoot, ok := o.cfg.LibraryPath(req.Library)
	if !ok {
		return nil, fmt.Errorf("unknown library %q", req.Library)
	}
	seriesPath := library.SeriesPath(libraryRoot, req.FolderName)
	if err := os.MkdirAll(seriesPath, 0o755); err != nil {
		return nil, fmt.Errorf("create series folder: %w", err)
	}

	sites, err := scrape.LoadSites(o.cfg.Paths.SitesConfig)
	if err != nil {
		return nil, queue.Terminal(err)
	}
	site := sites.SiteFor(req.SourceURL)
	if site == nil {
		return nil, queue.Terminal(fmt.Errorf("no site configuration matches %s", req.SourceURL))
	}

	session, err := o.solve.Solve(ctx, req.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("solver session: %w", err)
	}

	coverURL := scrape.CoverURL(session.HTML, req.SourceURL, site)
	if coverURL == "" {
		return nil, errors.New("no cover image found on source page")
	}
	if err := o.downloadCover(ctx, coverURL, seriesPath, session); err != nil {
		return nil, fmt.Errorf("download cover: %w", err)
	}
	return &Result{Status: "Success", Message: "Cover image refreshed."}, nil
}

// BulkAdd imports a list of source URLs into the watch registry. Each URL
// is resolved to a series title via its site profile; existing series get
// the URL merged in, new series are created and queued for discovery.
// Per-URL failures are logged and skipped.
func (o *Orchestrator) BulkAdd(ctx context.Context, req BulkAddRequest) (*BulkAddResult, error) {
	sites, err := scrape.LoadSites(o.cfg.Paths.SitesConfig)
	if err != nil {
		return nil, queue.Terminal(err)
	}

	result := &BulkAddResult{}
	for _, rawURL := range req.URLs {
		sourceURL := strings.TrimSpace(rawURL)
		if sourceURL == "" {
			continue
		}
		logger := o.logger.With(logging.String(logging.FieldSourceURL, sourceURL))

		site := sites.SiteFor(sourceURL)
		if site == nil {
			logger.Warn("no site configuration, skipping")
			result.Skipped++
			continue
		}

		session, err := o.solve.Solve(ctx, sourceURL)
		if err != nil {
			logger.Warn("solver session failed, skipping", logging.Error(err))
			result.Skipped++
			continue
		}
		meta, err := scrape.SeriesMetadata(session.HTML, site)
		if err != nil || meta.Title == "" {
			logger.Warn("could not scrape a title, skipping", logging.Error(err))
			result.Skipped++
			continue
		}

		folderName := textutil.SanitizeFileName(meta.Title)
		if _, exists, err := o.registry.Get(ctx, folderName); err != nil {
			logger.Warn("registry lookup failed, skipping", logging.Error(err))
			result.Skipped++
			continue
		} else if exists {
			if _, err := o.registry.AddSource(ctx, folderName, sourceURL); err != nil {
				logger.Warn("failed to merge source", logging.Error(err))
				result.Skipped++
				continue
			}
			logger.Info("merged source into existing series", logging.String(logging.FieldSeries, folderName))
			result.Merged++
			continue
		}

		entry := registry.Entry{
			FolderName: folderName,
			SourceURLs: []string{sourceURL},
			Library:    req.Library,
			UseSolver:  true,
			Frequency:  req.Frequency,
		}
		if err := o.registry.Upsert(ctx, entry); err != nil {
			logger.Warn("failed to add series", logging.Error(err))
			result.Skipped++
			continue
		}
		if _, err := o.store.Enqueue(ctx, queue.KindDiscovery, folderName, RequestForEntry(entry)); err != nil {
			logger.Warn("failed to queue discovery", logging.Error(err))
		}
		logger.Info("added series to watchlist", logging.String(logging.FieldSeries, folderName))
		result.Added++
	}
	return result, nil
}

func parseYear(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	// Release fields often hold a full date like "2018-04-01".
	if idx := strings.IndexAny(value, "-/"); idx > 0 {
		value = value[:idx]
	}
	year, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return year
}

func flattenText(value string) string {
	value = strings.ReplaceAll(value, "\r", "")
	return strings.ReplaceAll(value, "\n", "")
}
