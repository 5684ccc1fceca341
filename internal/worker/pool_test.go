package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tankobon/internal/logging"
	"tankobon/internal/queue"
	"tankobon/internal/testsupport"
	"tankobon/internal/worker"
)

func waitForStatus(t *testing.T, store *queue.Store, jobID string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByJobID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestPoolProcessesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.QueuePollInterval = 0
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var handled atomic.Int32
	pool := worker.NewPool(cfg, store, logging.NewNop(), worker.HandlerFunc{
		JobKind: queue.KindDiscovery,
		Fn: func(ctx context.Context, job *queue.Job) (any, error) {
			handled.Add(1)
			return map[string]string{"state": "ok"}, nil
		},
	})

	job, err := store.Enqueue(context.Background(), queue.KindDiscovery, "series", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	done := waitForStatus(t, store, job.JobID, queue.StatusCompleted)
	if handled.Load() != 1 {
		t.Fatalf("expected one invocation, got %d", handled.Load())
	}
	if done.ResultJSON == "" {
		t.Fatal("expected result to be recorded")
	}
}

func TestPoolRetriesThenFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.QueuePollInterval = 0
	cfg.Workers.RetryDelay = 0
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var attempts atomic.Int32
	pool := worker.NewPool(cfg, store, logging.NewNop(), worker.HandlerFunc{
		JobKind: queue.KindDownload,
		Fn: func(ctx context.Context, job *queue.Job) (any, error) {
			attempts.Add(1)
			return nil, errors.New("source unavailable")
		},
	})

	job, err := store.Enqueue(context.Background(), queue.KindDownload, "chapter", nil, queue.WithMaxAttempts(3))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	failed := waitForStatus(t, store, job.JobID, queue.StatusFailed)
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if failed.ErrorMsg == "" {
		t.Fatal("expected failure message")
	}
}

func TestPoolTerminalErrorSkipsRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.QueuePollInterval = 0
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var attempts atomic.Int32
	pool := worker.NewPool(cfg, store, logging.NewNop(), worker.HandlerFunc{
		JobKind: queue.KindDownload,
		Fn: func(ctx context.Context, job *queue.Job) (any, error) {
			attempts.Add(1)
			return nil, queue.Terminal(errors.New("archive was empty"))
		},
	})

	job, err := store.Enqueue(context.Background(), queue.KindDownload, "chapter", nil, queue.WithMaxAttempts(4))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer pool.Stop()

	waitForStatus(t, store, job.JobID, queue.StatusFailed)
	if got := attempts.Load(); got != 1 {
		t.Fatalf("terminal error should not retry, got %d attempts", got)
	}
}

func TestPoolRequiresHandlers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pool := worker.NewPool(cfg, store, logging.NewNop())
	if err := pool.Start(context.Background()); err == nil {
		t.Fatal("expected start without handlers to fail")
	}
}
