// Package discovery drives chapter discovery for a watched series: it
// walks every source mirror, merges and labels the discovered chapters,
// synthesizes series metadata, and fans out download jobs for the
// chapters not yet on disk.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"tankobon/internal/chapters"
	"tankobon/internal/config"
	"tankobon/internal/download"
	"tankobon/internal/fetcher"
	"tankobon/internal/library"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scrape"
	"tankobon/internal/solver"
)

// Request is the payload of a discovery job.
type Request struct {
	FolderName string   `json:"series_folder_name"`
	SourceURLs []string `json:"series_urls"`
	Library    string   `json:"library"`
	UseSolver  bool     `json:"use_solver"`
}

// RequestForEntry builds a discovery request from a registry entry.
func RequestForEntry(entry registry.Entry) Request {
	return Request{
		FolderName: entry.FolderName,
		SourceURLs: entry.SourceURLs,
		Library:    entry.Library,
		UseSolver:  entry.UseSolver,
	}
}

// Result reports what a discovery run found and queued.
type Result struct {
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
	ChaptersFound     int    `json:"chapters_found"`
	NewChaptersQueued int    `json:"new_chapters_queued"`
}

// Orchestrator runs discovery and its related maintenance operations.
type Orchestrator struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *queue.Store
	fetch    fetcher.Client
	solve    solver.Client
	http     *resty.Client
	logger   *slog.Logger
}

// New constructs a discovery orchestrator.
func New(cfg *config.Config, reg *registry.Registry, store *queue.Store, fetch fetcher.Client, solve solver.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		store:    store,
		fetch:    fetch,
		solve:    solve,
		http:     resty.New().SetTimeout(60 * time.Second),
		logger:   logging.NewComponentLogger(logger, "discovery"),
	}
}

// sourceState accumulates what the per-source walk produced. pageHTML and
// pageURL belong together: the cover scrape must pair the document with
// the site profile of the URL it actually came from.
type sourceState struct {
	discovered []chapters.Chapter
	seed       chapters.SeedRecord
	pageMeta   scrape.Metadata
	pageHTML   string
	pageURL    string
	session    *solver.Session
}

// Discover runs one discovery pass over all sources of a series.
func (o *Orchestrator) Discover(ctx context.Context, req Request) (*Result, error) {
	logger := o.logger.With(logging.String(logging.FieldSeries, req.FolderName))

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

	state := &sourceState{}
	for _, sourceURL := range req.SourceURLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.walkSource(ctx, logger, state, sites, sourceURL, req.UseSolver)
	}

	resolved := chapters.Resolve(state.discovered)
	if len(resolved) == 0 {
		return nil, errors.New("no chapters found from any source")
	}

	labels := chapters.Labels(resolved)
	if err := o.registry.SetChapterLabels(ctx, req.FolderName, labels); err != nil {
		logger.Warn("failed to cache chapter labels", logging.Error(err))
	}

	if !library.HasSeriesJSON(seriesPath) {
		o.synthesizeMetadata(ctx, logger, state, sites, req, seriesPath, len(resolved))
	}

	downloaded, err := library.DownloadedChapters(seriesPath)
	if err != nil {
		return nil, err
	}

	var missing []chapters.Chapter
	missingSet := make(map[string]struct{})
	for _, label := range library.MissingChapters(labels, downloaded) {
		missingSet[label] = struct{}{}
	}
	for _, chapter := range resolved {
		if _, ok := missingSet[chapter.Label]; ok {
			missing = append(missing, chapter)
		}
	}

	if len(missing) == 0 {
		return &Result{Status: "Success", Message: "No new chapters found.", ChaptersFound: len(resolved)}, nil
	}

	labelsOut := make([]string, 0, len(missing))
	payloads := make([]any, 0, len(missing))
	for _, chapter := range missing {
		labelsOut = append(labelsOut, chapter.Label)
		payloads = append(payloads, download.Request{
			URL:         chapter.URL,
			SeriesPath:  seriesPath,
			ChapterName: chapter.Label,
			UseSolver:   req.UseSolver,
		})
	}
	if _, err := o.store.EnqueueBatch(ctx, queue.KindDownload, labelsOut, payloads,
		queue.WithMaxAttempts(download.MaxAttempts(o.cfg))); err != nil {
		return nil, fmt.Errorf("enqueue downloads: %w", err)
	}

	logger.Info("queued new chapters",
		logging.Int("found", len(resolved)),
		logging.Int("queued", len(missing)),
	)
	return &Result{Status: "Running", ChaptersFound: len(resolved), NewChaptersQueued: len(missing)}, nil
}

// walkSource discovers chapters on one source mirror. Source failures are
// logged and tolerated; the run continues with the remaining mirrors.
func (o *Orchestrator) walkSource(ctx context.Context, logger *slog.Logger, state *sourceState, sites scrape.Sites, sourceURL string, useSolver bool) {
	logger = logger.With(logging.String(logging.FieldSourceURL, sourceURL))

	var args []string
	var session *solver.Session
	if useSolver {
		var err error
		session, err = o.solve.Solve(ctx, sourceURL)
		if err != nil {
			logger.Warn("solver session failed, continuing without it", logging.Error(err))
		} else {
			sessionArgs, cookiePath, err := session.FetcherArgs("")
			if err != nil {
				logger.Warn("cookie file failed", logging.Error(err))
			} else {
				args = sessionArgs
				defer os.Remove(cookiePath)
			}
			if state.session == nil {
				state.session = session
			}
		}
	}

	dump, err := o.fetch.Discover(ctx, sourceURL, args)
	if err != nil {
		logger.Warn("source discovery failed, skipping", logging.Error(err))
		return
	}

	found, seed := chapters.Extract(dump)
	state.discovered = append(state.discovered, found...)
	if state.seed == nil && seed != nil {
		state.seed = seed
	}

	site := sites.SiteFor(sourceURL)
	html := ""
	if session != nil {
		html = session.HTML
	} else if site != nil {
		html, err = o.fetchPage(ctx, sourceURL)
		if err != nil {
			logger.Warn("series page fetch failed", logging.Error(err))
		}
	}
	if html != "" {
		if state.pageHTML == "" {
			state.pageHTML = html
			state.pageURL = sourceURL
		}
		if site != nil {
			meta, err := scrape.SeriesMetadata(html, site)
			if err == nil {
				state.pageMeta.Merge(meta)
			}
		}
	}
	logger.Info("source discovered", logging.Int("chapters", len(found)))
}

// fetchPage retrieves a series page without the solver.
func (o *Orchestrator) fetchPage(ctx context.Context, pageURL string) (string, error) {
	resp, err := o.http.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("page fetch returned HTTP %d", resp.StatusCode())
	}
	return string(resp.Body()), nil
}

// synthesizeMetadata writes the one-time series.json document and, when
// resolvable, downloads the cover image. Failures here never fail the
// discovery run.
func (o *Orchestrator) synthesizeMetadata(ctx context.Context, logger *slog.Logger, state *sourceState, sites scrape.Sites, req Request, seriesPath string, totalIssues int) {
	coverURL := ""
	if state.seed != nil {
		coverURL = state.seed.String("cover", "thumbnail")
	}
	if coverURL == "" && state.pageHTML != "" {
		site := sites.SiteFor(state.pageURL)
		coverURL = scrape.CoverURL(state.pageHTML, state.pageURL, site)
	}

	hasCover := false
	if coverURL != "" {
		if err := o.downloadCover(ctx, coverURL, seriesPath, state.session); err != nil {
			logger.Warn("cover download failed", logging.Error(err), logging.String("cover_url", coverURL))
		} else {
			hasCover = true
		}
	}

	meta := buildSeriesMetadata(req.FolderName, state.seed, state.pageMeta, totalIssues, hasCover)
	if err := library.WriteSeriesJSON(seriesPath, library.NewSeriesDocument(meta)); err != nil {
		logger.Warn("failed to write series metadata", logging.Error(err))
		return
	}
	logger.Info("series metadata written")
}

func (o *Orchestrator) downloadCover(ctx context.Context, coverURL, seriesPath string, session *solver.Session) error {
	req := o.http.R().SetContext(ctx).SetOutput(filepath.Join(seriesPath, library.CoverFileName))
	if session != nil {
		req.SetHeader("User-Agent", session.UserAgent)
		for _, cookie := range session.Cookies {
			req.SetCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
		}
	}
	resp, err := req.Get(coverURL)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cover fetch returned HTTP %d", resp.StatusCode())
	}
	return nil
}

// buildSeriesMetadata folds the discovery seed record and the scraped
// page metadata into the series document fields. Page metadata wins over
// seed fields only where the seed had nothing.
func buildSeriesMetadata(folderName string, seed chapters.SeedRecord, pageMeta scrape.Metadata, totalIssues int, hasCover bool) library.SeriesMetadata {
	name := pageMeta.Title
	if name == "" && seed != nil {
		name = seed.String("manga", "name")
	}
	if name == "" {
		name = folderName
	}

	publisher := pageMeta.Publisher
	if publisher == "" && seed != nil {
		publisher = seed.String("publisher", "author")
	}
	if publisher == "" {
		publisher = "Unknown"
	}

	yearRaw := pageMeta.Year
	if yearRaw == "" && seed != nil {
		yearRaw = seed.String("release", "year")
	}
	year := parseYear(yearRaw)

	description := pageMeta.Description
	if description == "" && seed != nil {
		description = seed.String("description", "description_text")
	}

	status := pageMeta.Status
	if status == "" && seed != nil {
		status = seed.String("status")
	}

	comicImage := ""
	if hasCover {
		comicImage = library.CoverFileName
	}

	return library.SeriesMetadata{
		Publisher:            publisher,
		Name:                 name,
		Year:                 year,
		DescriptionText:      flattenText(description),
		DescriptionFormatted: description,
		ComicImage:           comicImage,
		TotalIssues:          totalIssues,
		Status:               scrape.NormalizeStatus(status),
	}
}
