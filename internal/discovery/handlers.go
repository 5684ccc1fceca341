package discovery

import (
	"context"

	"tankobon/internal/queue"
	"tankobon/internal/worker"
)

// Handlers returns the worker handlers the orchestrator serves.
func (o *Orchestrator) Handlers() []worker.Handler {
	return []worker.Handler{
		worker.HandlerFunc{JobKind: queue.KindDiscovery, Fn: o.handleDiscovery},
		worker.HandlerFunc{JobKind: queue.KindRefreshMetadata, Fn: o.handleRefreshMetadata},
		worker.HandlerFunc{JobKind: queue.KindRefreshCover, Fn: o.handleRefreshCover},
		worker.HandlerFunc{JobKind: queue.KindBulkAdd, Fn: o.handleBulkAdd},
	}
}

func (o *Orchestrator) handleDiscovery(ctx context.Context, job *queue.Job) (any, error) {
	var req Request
	if err := job.UnmarshalPayload(&req); err != nil {
		return nil, queue.Terminal(err)
	}
	return o.Discover(ctx, req)
}

func (o *Orchestrator) handleRefreshMetadata(ctx context.Context, job *queue.Job) (any, error) {
	var req Request
	if err := job.UnmarshalPayload(&req); err != nil {
		return nil, queue.Terminal(err)
	}
	return o.RefreshMetadata(ctx, req)
}

func (o *Orchestrator) handleRefreshCover(ctx context.Context, job *queue.Job) (any, error) {
	var req RefreshCoverRequest
	if err := job.UnmarshalPayload(&req); err != nil {
		return nil, queue.Terminal(err)
	}
	return o.RefreshCover(ctx, req)
}

func (o *Orchestrator) handleBulkAdd(ctx context.Context, job *queue.Job) (any, error) {
	var req BulkAddRequest
	if err := job.UnmarshalPayload(&req); err != nil {
		return nil, queue.Terminal(err)
	}
	return o.BulkAdd(ctx, req)
}
