// Package scheduler re-triggers discovery for watched series on four
// independent cadence pools.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tankobon/internal/broker"
	"tankobon/internal/config"
	"tankobon/internal/discovery"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
)

const lastRunKeyPrefix = "last_run:"

// Scheduler owns the periodic discovery pools.
type Scheduler struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *queue.Store
	broker   broker.Broker
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a scheduler over all four frequency pools.
func New(cfg *config.Config, reg *registry.Registry, store *queue.Store, b broker.Broker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		registry: reg,
		store:    store,
		broker:   b,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Start launches one loop per frequency pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	pools := registry.Frequencies()
	s.wg.Add(len(pools))
	for _, pool := range pools {
		go s.runPool(runCtx, pool)
	}
	return nil
}

// Stop terminates the pool loops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) runPool(ctx context.Context, pool registry.Frequency) {
	defer s.wg.Done()
	logger := s.logger.With(logging.String(logging.FieldPool, string(pool)))

	for {
		next, err := s.NextRun(ctx, pool)
		if err != nil {
			logger.Warn("could not read pool state", logging.Error(err))
			next = time.Now().Add(time.Minute)
		}

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		queued, err := s.Tick(ctx, pool)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("scheduled check failed", logging.Error(err))
			continue
		}
		if queued > 0 {
			logger.Info("dispatched scheduled checks", logging.Int("series", queued))
		}
	}
}

// Tick runs one scheduled check for a pool: it records the run timestamp
// first, then queues a discovery job for every watched series on that
// cadence. Malformed entries are logged and skipped.
func (s *Scheduler) Tick(ctx context.Context, pool registry.Frequency) (int, error) {
	logger := s.logger.With(logging.String(logging.FieldPool, string(pool)))

	// The timestamp advances even when the check finds nothing, so a
	// failing pool does not spin.
	if err := s.RecordRun(ctx, pool); err != nil {
		return 0, err
	}

	entries, err := s.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list watched series: %w", err)
	}

	var labels []string
	var payloads []any
	for _, entry := range entries {
		if entry.Frequency != pool {
			continue
		}
		if _, ok := s.cfg.LibraryPath(entry.Library); !ok || entry.FolderName == "" || len(entry.SourceURLs) == 0 {
			logger.Warn("skipping malformed watch entry",
				logging.String(logging.FieldSeries, entry.FolderName),
				logging.String("library", entry.Library),
			)
			continue
		}
		labels = append(labels, entry.FolderName)
		payloads = append(payloads, discovery.RequestForEntry(entry))
	}

	if len(payloads) == 0 {
		return 0, nil
	}
	if _, err := s.store.EnqueueBatch(ctx, queue.KindDiscovery, labels, payloads); err != nil {
		return 0, fmt.Errorf("enqueue scheduled discoveries: %w", err)
	}
	return len(payloads), nil
}

// RecordRun stamps a pool's last run without dispatching any checks.
func (s *Scheduler) RecordRun(ctx context.Context, pool registry.Frequency) error {
	if err := s.broker.Set(ctx, lastRunKey(pool), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record pool run: %w", err)
	}
	return nil
}

// LastRun returns when a pool last ran, or the zero time when it never
// has.
func (s *Scheduler) LastRun(ctx context.Context, pool registry.Frequency) (time.Time, error) {
	raw, err := s.broker.Get(ctx, lastRunKey(pool))
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse pool timestamp: %w", err)
	}
	return ts, nil
}

// NextRun returns when a pool is due: last run plus the pool interval,
// or now when the pool has never run.
func (s *Scheduler) NextRun(ctx context.Context, pool registry.Frequency) (time.Time, error) {
	last, err := s.LastRun(ctx, pool)
	if err != nil {
		return time.Time{}, err
	}
	if last.IsZero() {
		return time.Now(), nil
	}
	return last.Add(pool.Interval()), nil
}

// PoolStatus describes one pool for status reporting.
type PoolStatus struct {
	LastRun time.Time `json:"last_run"`
	NextRun time.Time `json:"next_run"`
}

// Status reports last and next run per pool. Pools that never ran have
// zero timestamps.
func (s *Scheduler) Status(ctx context.Context) (map[registry.Frequency]PoolStatus, error) {
	status := make(map[registry.Frequency]PoolStatus, len(registry.Frequencies()))
	for _, pool := range registry.Frequencies() {
		last, err := s.LastRun(ctx, pool)
		if err != nil {
			return nil, err
		}
		entry := PoolStatus{LastRun: last}
		if !last.IsZero() {
			entry.NextRun = last.Add(pool.Interval())
		}
		status[pool] = entry
	}
	return status, nil
}

func lastRunKey(pool registry.Frequency) string {
	return lastRunKeyPrefix + string(pool)
}
