// Package worker runs queued jobs through registered handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tankobon/internal/config"
	"tankobon/internal/logging"
	"tankobon/internal/queue"
)

// Handler processes jobs of a single kind. The returned value, when not
// nil, is stored as the job result document.
type Handler interface {
	Kind() queue.Kind
	Handle(ctx context.Context, job *queue.Job) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	JobKind queue.Kind
	Fn      func(ctx context.Context, job *queue.Job) (any, error)
}

func (h HandlerFunc) Kind() queue.Kind { return h.JobKind }

func (h HandlerFunc) Handle(ctx context.Context, job *queue.Job) (any, error) {
	return h.Fn(ctx, job)
}

// Pool pulls runnable jobs from the store and dispatches them to handlers.
type Pool struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	handlers map[queue.Kind]Handler

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	retryDelay         time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a worker pool with the given handlers.
func NewPool(cfg *config.Config, store *queue.Store, logger *slog.Logger, handlers ...Handler) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	byKind := make(map[queue.Kind]Handler, len(handlers))
	for _, handler := range handlers {
		byKind[handler.Kind()] = handler
	}
	return &Pool{
		cfg:                cfg,
		store:              store,
		logger:             logging.NewComponentLogger(logger, "worker"),
		handlers:           byKind,
		pollInterval:       time.Duration(cfg.Workers.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workers.ErrorRetryInterval) * time.Second,
		retryDelay:         time.Duration(cfg.Workers.RetryDelay) * time.Second,
	}
}

// Register adds or replaces the handler for a job kind. Must be called
// before Start.
func (p *Pool) Register(handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[handler.Kind()] = handler
}

// Start recovers jobs stuck in running state and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if len(p.handlers) == 0 {
		return errors.New("no job handlers registered")
	}

	reset, err := p.store.ResetStuckRunning(ctx)
	if err != nil {
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		p.logger.Info("requeued interrupted jobs", logging.Int64("count", reset))
	}

	count := p.cfg.Workers.Count
	if count < 1 {
		count = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go p.run(runCtx)
	}
	return nil
}

// Stop terminates the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.ClaimNext(ctx, time.Now())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
			)
			p.sleep(ctx, p.errorRetryInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	logger := p.logger.With(
		logging.String(logging.FieldJobID, job.JobID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
	)
	handler, ok := p.handlers[job.Kind]
	if !ok {
		logger.Error("no handler registered for job kind")
		if err := p.store.Fail(ctx, job, fmt.Errorf("no handler for kind %q", job.Kind)); err != nil {
			logger.Error("failed to mark job failed", logging.Error(err))
		}
		return
	}

	logger.Info("job started", logging.Int("attempt", job.Attempts))
	result, handleErr := handler.Handle(ctx, job)
	if handleErr == nil {
		if err := p.store.Complete(ctx, job, result); err != nil {
			logger.Error("failed to mark job completed", logging.Error(err))
			return
		}
		logger.Info("job completed")
		return
	}

	if errors.Is(handleErr, context.Canceled) {
		// Shutdown mid-job: leave it running so the restart reclaimer
		// returns it to pending.
		logger.Info("job interrupted by shutdown")
		return
	}

	if queue.IsTerminal(handleErr) {
		if err := p.store.Fail(ctx, job, handleErr); err != nil {
			logger.Error("failed to mark job failed", logging.Error(err))
			return
		}
		logger.Error("job failed permanently", logging.Error(handleErr))
		return
	}

	status, err := p.store.Retry(ctx, job, handleErr, p.retryDelay)
	if err != nil {
		logger.Error("failed to schedule retry", logging.Error(err))
		return
	}
	switch status {
	case queue.StatusAwaitingRetry:
		logger.Warn("job failed, retry scheduled",
			logging.Error(handleErr),
			logging.Int("attempt", job.Attempts),
			logging.Duration("retry_delay", p.retryDelay),
		)
	case queue.StatusFailed:
		logger.Error("job failed after final attempt", logging.Error(handleErr))
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
