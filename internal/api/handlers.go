package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tankobon/internal/discovery"
	"tankobon/internal/library"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scrape"
	"tankobon/internal/search"
	"tankobon/internal/textutil"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("term"))
	if len(term) < 3 {
		s.respondError(w, http.StatusBadRequest, "search term must be at least 3 characters")
		return
	}
	limit := search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = parsed
	}

	results, err := s.searcher.Search(r.Context(), term, r.URL.Query().Get("site"), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	s.respond(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleTitleFromURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	title, err := s.scrapeTitle(r.Context(), req.URL)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if title == "" {
		s.respondError(w, http.StatusNotFound, "could not find a title on the provided page")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"title": title})
}

// scrapeTitle resolves the human title of a series page through its site
// profile.
func (s *Server) scrapeTitle(ctx context.Context, sourceURL string) (string, error) {
	sites, err := scrape.LoadSites(s.cfg.Paths.SitesConfig)
	if err != nil {
		return "", err
	}
	site := sites.SiteFor(sourceURL)
	if site == nil {
		return "", fmt.Errorf("no site configuration matches this URL")
	}
	session, err := s.solve.Solve(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	meta, err := scrape.SeriesMetadata(session.HTML, site)
	if err != nil {
		return "", err
	}
	return meta.Title, nil
}

type downloadRequest struct {
	SourceURLs []string `json:"source_urls"`
	Library    string   `json:"library"`
	FolderName string   `json:"series_folder_name"`
	Title      string   `json:"title"`
	UseSolver  *bool    `json:"use_solver"`
	Frequency  string   `json:"frequency"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.SourceURLs) == 0 {
		s.respondError(w, http.StatusBadRequest, "source_urls cannot be empty")
		return
	}
	if _, ok := s.cfg.LibraryPath(req.Library); !ok {
		s.respondError(w, http.StatusBadRequest, "invalid library selected")
		return
	}

	useSolver := true
	if req.UseSolver != nil {
		useSolver = *req.UseSolver
	}
	frequency, ok := registry.ParseFrequency(req.Frequency)
	if !ok {
		frequency = registry.FrequencyDaily
	}

	ctx := r.Context()

	entry, found, err := s.lookupSeries(ctx, req.FolderName, req.Title)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if found {
		// Merge the new sources into the existing entry and adopt the
		// requested cadence.
		merged := append(append([]string(nil), entry.SourceURLs...), req.SourceURLs...)
		entry.SourceURLs = merged
		entry.Frequency = frequency
		if err := s.registry.Upsert(ctx, entry); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		entry, _, _ = s.registry.Get(ctx, entry.FolderName)
		if err := s.sched.RecordRun(ctx, entry.Frequency); err != nil {
			s.logger.Warn("failed to record pool run", logging.Error(err))
		}
	} else {
		folderName := req.FolderName
		title := req.Title
		if title == "" {
			if scraped, err := s.scrapeTitle(ctx, req.SourceURLs[0]); err == nil && scraped != "" {
				title = scraped
			}
		}
		if title != "" {
			folderName = textutil.SanitizeFileName(title)
		}
		if folderName == "" {
			folderName = fallbackFolderName(req.SourceURLs[0])
		}
		entry = registry.Entry{
			FolderName: folderName,
			SourceURLs: req.SourceURLs,
			Library:    req.Library,
			UseSolver:  useSolver,
			Frequency:  frequency,
		}
		if err := s.registry.Upsert(ctx, entry); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		entry, _, _ = s.registry.Get(ctx, folderName)
	}

	job, err := s.store.Enqueue(ctx, queue.KindDiscovery, entry.FolderName, discovery.RequestForEntry(entry))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]string{
		"job_id":             job.JobID,
		"status":             "Discovery process initiated.",
		"series_folder_name": entry.FolderName,
	})
}

// lookupSeries finds a watched series by folder name first, then by the
// sanitized form of the title.
func (s *Server) lookupSeries(ctx context.Context, folderName, title string) (registry.Entry, bool, error) {
	if folderName != "" {
		entry, found, err := s.registry.Get(ctx, folderName)
		if err != nil || found {
			return entry, found, err
		}
	}
	if title != "" {
		return s.registry.Get(ctx, textutil.SanitizeFileName(title))
	}
	return registry.Entry{}, false, nil
}

func fallbackFolderName(sourceURL string) string {
	trimmed := strings.Trim(sourceURL, "/")
	segment := trimmed
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		segment = trimmed[idx+1:]
	}
	return fmt.Sprintf("%s_%s", textutil.SanitizeFileName(segment), uuid.NewString()[:8])
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderName   string `json:"series_folder_name"`
		NewSourceURL string `json:"new_source_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	found, err := s.registry.AddSource(r.Context(), req.FolderName, req.NewSourceURL)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "series not found")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "success", "message": "New source added to series."})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderName string `json:"series_folder_name"`
		SourceURL  string `json:"source_url_to_remove"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	found, removedEntry, err := s.registry.RemoveSource(r.Context(), req.FolderName, req.SourceURL)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "series or source URL not found")
		return
	}
	message := "Source removed from series."
	if removedEntry {
		message = "Last source removed. Series is no longer being watched."
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "success", "message": message})
}

func (s *Server) handleRefreshMetadata(w http.ResponseWriter, r *http.Request) {
	var req discovery.Request
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.cfg.LibraryPath(req.Library); !ok {
		s.respondError(w, http.StatusBadRequest, "invalid library selected")
		return
	}

	job, err := s.store.Enqueue(r.Context(), queue.KindRefreshMetadata, req.FolderName, req)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"job_id": job.JobID, "status": "Series metadata refresh initiated."})
}

func (s *Server) handleRefreshImage(w http.ResponseWriter, r *http.Request) {
	var req discovery.RefreshCoverRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.cfg.LibraryPath(req.Library); !ok {
		s.respondError(w, http.StatusBadRequest, "invalid library selected")
		return
	}

	job, err := s.store.Enqueue(r.Context(), queue.KindRefreshCover, req.FolderName, req)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"job_id": job.JobID, "status": "Cover image refresh initiated."})
}

func (s *Server) handleBulkAdd(w http.ResponseWriter, r *http.Request) {
	var req discovery.BulkAddRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.URLs) == 0 {
		s.respondError(w, http.StatusBadRequest, "URL list cannot be empty")
		return
	}
	if _, ok := s.cfg.LibraryPath(req.Library); !ok {
		s.respondError(w, http.StatusBadRequest, "invalid library selected")
		return
	}
	if _, ok := registry.ParseFrequency(string(req.Frequency)); !ok {
		req.Frequency = registry.FrequencyDaily
	}

	job, err := s.store.Enqueue(r.Context(), queue.KindBulkAdd, "bulk import", req)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"job_id": job.JobID, "status": "Bulk import process initiated."})
}

// watchedEntry is a registry entry decorated with reporting fields.
type watchedEntry struct {
	registry.Entry
	DisplaySiteName     string   `json:"display_site_name"`
	MissingChapterCount int      `json:"missing_chapters_count"`
	MissingChapterList  []string `json:"missing_chapters_list"`
}

func (s *Server) handleListWatched(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	watched := make([]watchedEntry, 0, len(entries))
	for _, entry := range entries {
		item := watchedEntry{Entry: entry, MissingChapterList: []string{}}
		if len(entry.SourceURLs) > 0 {
			item.DisplaySiteName = textutil.DisplaySiteName(entry.SourceURLs[0])
		}

		labels, err := s.registry.ChapterLabels(r.Context(), entry.FolderName)
		if err == nil && labels != nil {
			if root, ok := s.cfg.LibraryPath(entry.Library); ok {
				downloaded, err := library.DownloadedChapters(library.SeriesPath(root, entry.FolderName))
				if err == nil {
					missing := library.MissingChapters(labels, downloaded)
					sort.Strings(missing)
					if missing != nil {
						item.MissingChapterList = missing
					}
					item.MissingChapterCount = len(missing)
				}
			}
		}
		watched = append(watched, item)
	}
	s.respond(w, http.StatusOK, map[string]any{"watched_urls": watched})
}

func (s *Server) handleRemoveWatched(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderName string `json:"series_folder_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := s.registry.Remove(r.Context(), req.FolderName)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "series not found in watched list")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "success", "message": "Series removed."})
}

func (s *Server) handleSeriesMetadata(w http.ResponseWriter, r *http.Request) {
	folderName := chi.URLParam(r, "series_folder_name")
	root, ok := s.cfg.LibraryPath(r.URL.Query().Get("library"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid library")
		return
	}

	doc, err := library.ReadSeriesJSON(library.SeriesPath(root, folderName))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		s.respondError(w, http.StatusNotFound, "series metadata not found")
		return
	}
	s.respond(w, http.StatusOK, doc)
}

func (s *Server) handleScheduleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sched.Status(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := make(map[string]*string, len(status))
	for pool, entry := range status {
		if entry.NextRun.IsZero() {
			payload[string(pool)] = nil
			continue
		}
		formatted := entry.NextRun.UTC().Format(time.RFC3339)
		payload[string(pool)] = &formatted
	}
	s.respond(w, http.StatusOK, payload)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	active := []string{}
	running, err := s.store.List(r.Context(), queue.StatusRunning)
	if err == nil {
		for _, job := range running {
			active = append(active, fmt.Sprintf("Downloading: %s", jobLabel(job)))
		}
	}

	scheduled := []string{}
	pending, err := s.store.List(r.Context(), queue.StatusPending, queue.StatusAwaitingRetry)
	if err == nil {
		for _, job := range pending {
			scheduled = append(scheduled, fmt.Sprintf("Queued: %s", jobLabel(job)))
		}
	}

	s.respond(w, http.StatusOK, map[string]any{
		"active_jobs":    active,
		"scheduled_jobs": scheduled,
		"stats":          stats,
	})
}

func jobLabel(job *queue.Job) string {
	if job.Label != "" {
		return job.Label
	}
	return string(job.Kind)
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	sites, err := scrape.LoadSites(s.cfg.Paths.SitesConfig)
	if err != nil {
		s.respond(w, http.StatusOK, map[string]any{"sites": []string{}})
		return
	}
	names := sites.Names()
	if names == nil {
		names = []string{}
	}
	s.respond(w, http.StatusOK, map[string]any{"sites": names})
}
