package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tankobon/internal/config"
	"tankobon/internal/library"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scheduler"
	"tankobon/internal/search"
	"tankobon/internal/solver"
	"tankobon/internal/testsupport"
)

type solveStub struct {
	html string
	err  error
}

func (s *solveStub) Solve(_ context.Context, pageURL string) (*solver.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &solver.Session{URL: pageURL, HTML: s.html, UserAgent: "test-agent"}, nil
}

type fixture struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *queue.Store
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	b := testsupport.NewMemoryBroker()
	logger := logging.NewNop()
	reg := registry.New(b, logger)

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	solve := &solveStub{html: "<html><h1 class=\"title\">Scraped Title</h1></html>"}
	sched := scheduler.New(cfg, reg, store, b, logger)
	searcher := search.New(cfg, solve, logger)
	srv := New(cfg, reg, store, sched, searcher, solve, logger)

	return &fixture{cfg: cfg, registry: reg, store: store, router: srv.Routes()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestDownloadCreatesSeriesAndQueuesDiscovery(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/download", map[string]any{
		"source_urls": []string{"https://comics.example.com/series/alpha"},
		"library":     "comics",
		"title":       "Alpha Strike",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["series_folder_name"] != "Alpha Strike" {
		t.Fatalf("unexpected folder name %q", resp["series_folder_name"])
	}
	if resp["job_id"] == "" {
		t.Fatal("expected a job id")
	}

	entry, found, err := f.registry.Get(context.Background(), "Alpha Strike")
	if err != nil || !found {
		t.Fatalf("expected registry entry, found=%v err=%v", found, err)
	}
	if entry.Frequency != registry.FrequencyDaily {
		t.Fatalf("expected default daily frequency, got %q", entry.Frequency)
	}

	jobs, err := f.store.List(context.Background(), queue.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != queue.KindDiscovery {
		t.Fatalf("expected one pending discovery job, got %+v", jobs)
	}
}

func TestDownloadMergesSourcesIntoExistingSeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := registry.Entry{
		FolderName: "Beta Saga",
		SourceURLs: []string{"https://comics.example.com/series/beta"},
		Library:    "comics",
		UseSolver:  true,
		Frequency:  registry.FrequencyWeekly,
	}
	if err := f.registry.Upsert(ctx, seed); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/download", map[string]any{
		"source_urls":        []string{"https://mirror.example.net/beta"},
		"library":            "comics",
		"series_folder_name": "Beta Saga",
		"frequency":          "hourly",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	entry, found, err := f.registry.Get(ctx, "Beta Saga")
	if err != nil || !found {
		t.Fatalf("expected entry, found=%v err=%v", found, err)
	}
	if len(entry.SourceURLs) != 2 {
		t.Fatalf("expected merged sources, got %v", entry.SourceURLs)
	}
	if entry.Frequency != registry.FrequencyHourly {
		t.Fatalf("expected updated frequency, got %q", entry.Frequency)
	}
}

func TestDownloadRejectsUnknownLibrary(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/download", map[string]any{
		"source_urls": []string{"https://comics.example.com/series/x"},
		"library":     "movies",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWatchedListIncludesMissingChapters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := registry.Entry{
		FolderName: "Gamma Tales",
		SourceURLs: []string{"https://comics.example.com/series/gamma"},
		Library:    "comics",
		UseSolver:  true,
		Frequency:  registry.FrequencyDaily,
	}
	if err := f.registry.Upsert(ctx, entry); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	if err := f.registry.SetChapterLabels(ctx, "Gamma Tales", []string{"Chapter 0001", "Chapter 0002"}); err != nil {
		t.Fatalf("set labels: %v", err)
	}

	root, _ := f.cfg.LibraryPath("comics")
	seriesPath := library.SeriesPath(root, "Gamma Tales")
	if err := os.MkdirAll(seriesPath, 0o755); err != nil {
		t.Fatalf("mkdir series: %v", err)
	}
	if err := os.WriteFile(filepath.Join(seriesPath, "Chapter 0001.cbz"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/watched_urls", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Watched []struct {
			FolderName      string   `json:"series_folder_name"`
			DisplaySiteName string   `json:"display_site_name"`
			MissingCount    int      `json:"missing_chapters_count"`
			MissingList     []string `json:"missing_chapters_list"`
		} `json:"watched_urls"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Watched) != 1 {
		t.Fatalf("expected one watched series, got %d", len(resp.Watched))
	}
	got := resp.Watched[0]
	if got.MissingCount != 1 || len(got.MissingList) != 1 || got.MissingList[0] != "Chapter 0002" {
		t.Fatalf("unexpected missing chapters: %+v", got)
	}
	if got.DisplaySiteName == "" {
		t.Fatal("expected a display site name")
	}
}

func TestRemoveWatchedNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/watched_urls", map[string]string{
		"series_folder_name": "nope",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAddAndRemoveSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := registry.Entry{
		FolderName: "Delta Force",
		SourceURLs: []string{"https://comics.example.com/series/delta"},
		Library:    "comics",
		Frequency:  registry.FrequencyDaily,
	}
	if err := f.registry.Upsert(ctx, entry); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/add_source_to_series", map[string]string{
		"series_folder_name": "Delta Force",
		"new_source_url":     "https://mirror.example.net/delta",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add source failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/remove_source_from_series", map[string]string{
		"series_folder_name":   "Delta Force",
		"source_url_to_remove": "https://mirror.example.net/delta",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove source failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/remove_source_from_series", map[string]string{
		"series_folder_name":   "Delta Force",
		"source_url_to_remove": "https://comics.example.com/series/delta",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove last source failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["message"] != "Last source removed. Series is no longer being watched." {
		t.Fatalf("unexpected message %q", resp["message"])
	}

	if _, found, _ := f.registry.Get(ctx, "Delta Force"); found {
		t.Fatal("expected series removed after losing its last source")
	}
}

func TestRefreshMetadataQueuesJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/refresh_metadata", map[string]any{
		"series_folder_name": "Gamma Tales",
		"series_urls":        []string{"https://comics.example.com/series/gamma"},
		"library":            "comics",
		"use_solver":         true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	jobs, err := f.store.List(context.Background(), queue.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != queue.KindRefreshMetadata {
		t.Fatalf("expected one refresh_metadata job, got %+v", jobs)
	}
}

func TestBulkAddValidatesURLList(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/bulk_add", map[string]any{
		"urls":    []string{},
		"library": "comics",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/bulk_add", map[string]any{
		"urls":      []string{"https://comics.example.com/series/one"},
		"library":   "comics",
		"frequency": "weekly",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	jobs, err := f.store.List(context.Background(), queue.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != queue.KindBulkAdd {
		t.Fatalf("expected one bulk_add job, got %+v", jobs)
	}
}

func TestSearchRejectsShortTerm(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/search?term=ab", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/search?term=abc&limit=200", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range limit, got %d", rec.Code)
	}
}

func TestJobStatusReportsQueueLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.Enqueue(ctx, queue.KindDownload, "Chapter 0005", map[string]string{"url": "https://x"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/job_status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var resp struct {
		Active    []string `json:"active_jobs"`
		Scheduled []string `json:"scheduled_jobs"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Active) != 0 {
		t.Fatalf("expected no active jobs, got %v", resp.Active)
	}
	if len(resp.Scheduled) != 1 || resp.Scheduled[0] != "Queued: Chapter 0005" {
		t.Fatalf("unexpected scheduled jobs: %v", resp.Scheduled)
	}
}

func TestScheduleStatusListsAllPools(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/schedule_status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var resp map[string]*string
	decodeBody(t, rec, &resp)
	for _, pool := range registry.Frequencies() {
		if _, ok := resp[string(pool)]; !ok {
			t.Fatalf("missing pool %q in %v", pool, resp)
		}
	}
}

func TestSeriesMetadataEndpoint(t *testing.T) {
	f := newFixture(t)

	root, _ := f.cfg.LibraryPath("comics")
	seriesPath := library.SeriesPath(root, "Epsilon")
	if err := os.MkdirAll(seriesPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := library.NewSeriesDocument(library.SeriesMetadata{Name: "Epsilon"})
	if err := library.WriteSeriesJSON(seriesPath, doc); err != nil {
		t.Fatalf("write series.json: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/series_metadata/Epsilon?library=comics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var got library.SeriesDocument
	decodeBody(t, rec, &got)
	if got.Metadata.Name != "Epsilon" {
		t.Fatalf("unexpected metadata name %q", got.Metadata.Name)
	}

	rec = f.do(t, http.MethodGet, "/api/series_metadata/Missing?library=comics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing metadata, got %d", rec.Code)
	}
}

func TestSitesEndpointEmptyWhenUnconfigured(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/sites", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var resp struct {
		Sites []string `json:"sites"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Sites) != 0 {
		t.Fatalf("expected no sites, got %v", resp.Sites)
	}
}
