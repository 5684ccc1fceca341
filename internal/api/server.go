// Package api exposes the daemon's HTTP control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tankobon/internal/config"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scheduler"
	"tankobon/internal/search"
	"tankobon/internal/solver"
)

// Server hosts the JSON API.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *queue.Store
	sched    *scheduler.Scheduler
	searcher *search.Searcher
	solve    solver.Client
	logger   *slog.Logger

	http *http.Server
}

// New constructs the API server.
func New(cfg *config.Config, reg *registry.Registry, store *queue.Store, sched *scheduler.Scheduler, searcher *search.Searcher, solve solver.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	server := &Server{
		cfg:      cfg,
		registry: reg,
		store:    store,
		sched:    sched,
		searcher: searcher,
		solve:    solve,
		logger:   logging.NewComponentLogger(logger, "api"),
	}
	server.http = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Post("/get_title_from_url", s.handleTitleFromURL)
		r.Post("/download", s.handleDownload)
		r.Post("/add_source_to_series", s.handleAddSource)
		r.Post("/remove_source_from_series", s.handleRemoveSource)
		r.Post("/refresh_metadata", s.handleRefreshMetadata)
		r.Post("/refresh_image", s.handleRefreshImage)
		r.Post("/bulk_add", s.handleBulkAdd)
		r.Get("/watched_urls", s.handleListWatched)
		r.Delete("/watched_urls", s.handleRemoveWatched)
		r.Get("/series_metadata/{series_folder_name}", s.handleSeriesMetadata)
		r.Get("/schedule_status", s.handleScheduleStatus)
		r.Get("/job_status", s.handleJobStatus)
		r.Get("/sites", s.handleSites)
	})
	return router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	listener := s.http
	go func() {
		if err := listener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("addr", s.http.Addr))
	return nil
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respond(w, status, map[string]string{"detail": detail})
}

func decodeJSON(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
