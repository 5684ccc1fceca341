// Package daemon coordinates the background services of the process:
// the worker pool, the update scheduler, and the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tankobon/internal/api"
	"tankobon/internal/config"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/scheduler"
	"tankobon/internal/worker"
)

// Daemon owns the long-running services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	pool   *worker.Pool
	sched  *scheduler.Scheduler
	server *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	QueueDBPath  string
	LockFilePath string
	APIBind      string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, pool *worker.Pool, sched *scheduler.Scheduler, server *api.Server, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || pool == nil || sched == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, worker pool, scheduler, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "tankobon.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pool:     pool,
		sched:    sched,
		server:   server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tankobon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pool.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := d.sched.Start(runCtx); err != nil {
		d.pool.Stop()
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.server != nil {
		if err := d.server.Start(); err != nil {
			d.sched.Stop()
			d.pool.Stop()
			d.releaseLock()
			cancel()
			d.cancel = nil
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the services in reverse start order and releases the
// instance lock.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() {
		return
	}

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn("api server shutdown failed", logging.Error(err))
		}
	}
	d.sched.Stop()
	d.pool.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases the job store.
func (d *Daemon) Close() error {
	d.Stop(context.Background())
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns current runtime information.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		QueueDBPath:  filepath.Join(d.cfg.Paths.DataDir, "jobs.db"),
		LockFilePath: d.lockPath,
		APIBind:      d.cfg.Paths.APIBind,
	}
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release instance lock", logging.Error(err))
	}
}
