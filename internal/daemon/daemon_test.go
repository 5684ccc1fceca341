package daemon

import (
	"context"
	"testing"

	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/registry"
	"tankobon/internal/scheduler"
	"tankobon/internal/testsupport"
	"tankobon/internal/worker"
)

func newDaemon(t *testing.T) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := testsupport.NewMemoryBroker()
	reg := registry.New(b, logger)

	handler := worker.HandlerFunc{
		JobKind: queue.KindDiscovery,
		Fn: func(context.Context, *queue.Job) (any, error) {
			return nil, nil
		},
	}
	pool := worker.NewPool(cfg, store, logger, handler)
	sched := scheduler.New(cfg, reg, store, b, logger)

	d, err := New(cfg, store, pool, sched, nil, logger)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("expected running status after start")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected error starting an already running daemon")
	}

	d.Stop(ctx)
	if d.Status().Running {
		t.Fatal("expected stopped status after stop")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	first := newDaemon(t)
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer first.Stop(ctx)

	second, err := New(first.cfg, first.store, first.pool, first.sched, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop(ctx)
		t.Fatal("expected second instance start to fail while lock is held")
	}
}

func TestDaemonStatusPaths(t *testing.T) {
	d := newDaemon(t)

	status := d.Status()
	if status.QueueDBPath == "" || status.LockFilePath == "" {
		t.Fatalf("expected populated status paths, got %+v", status)
	}
	if status.Running {
		t.Fatal("expected stopped status before start")
	}
}
