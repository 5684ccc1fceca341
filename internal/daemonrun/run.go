// Package daemonrun wires the daemon dependencies together and runs the
// process until a shutdown signal arrives.
package daemonrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"tankobon/internal/api"
	"tankobon/internal/broker"
	"tankobon/internal/config"
	"tankobon/internal/daemon"
	"tankobon/internal/discovery"
	"tankobon/internal/download"
	"tankobon/internal/fetcher"
	"tankobon/internal/logging"
	"tankobon/internal/notifications"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scheduler"
	"tankobon/internal/search"
	"tankobon/internal/solver"
	"tankobon/internal/worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the daemon runtime loop and blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tankobon-%s.log", runID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: io.MultiWriter(os.Stdout, logFile),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tankobon.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "tankobon.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	b, err := broker.NewRedis(signalCtx, cfg.Broker.URL, logging.NewComponentLogger(logger, "broker"))
	if err != nil {
		logger.Error("connect broker", logging.Error(err))
		return err
	}
	defer b.Close()

	reg := registry.New(b, logging.NewComponentLogger(logger, "registry"))
	fetch := fetcher.FromConfig(cfg)
	solve := solver.New(cfg)
	notifier := notifications.NewService(cfg)

	orch := discovery.New(cfg, reg, store, fetch, solve, logging.NewComponentLogger(logger, "discovery"))
	downloadTask := download.NewTask(cfg, fetch, solve, notifier, logging.NewComponentLogger(logger, "download"))

	handlers := append(orch.Handlers(), worker.Handler(downloadTask))
	pool := worker.NewPool(cfg, store, logging.NewComponentLogger(logger, "worker"), handlers...)

	sched := scheduler.New(cfg, reg, store, b, logging.NewComponentLogger(logger, "scheduler"))
	searcher := search.New(cfg, solve, logging.NewComponentLogger(logger, "search"))
	server := api.New(cfg, reg, store, sched, searcher, solve, logging.NewComponentLogger(logger, "api"))

	d, err := daemon.New(cfg, store, pool, sched, server, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}

	<-signalCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	d.Stop(shutdownCtx)
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "tankobon.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
