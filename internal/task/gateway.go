package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// GatewayConfig configures the Gateway's local infrastructure retries
type GatewayConfig struct {
	InfraRetries   int
	InfraBaseDelay time.Duration
}

// Gateway records new tasks and dispatches their descriptors.
// It is the only path by which a task enters the system.
type Gateway struct {
	store    ResultStore
	queue    Enqueuer
	handlers HandlerLookup
	infra    infraRetrier
	newID    func() string
	logger   *slog.Logger
}

// NewGateway creates a Gateway over the given store and queue
func NewGateway(store ResultStore, queue Enqueuer, handlers HandlerLookup, config GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	if store == nil || queue == nil || handlers == nil {
		return nil, fmt.Errorf("gateway: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:    store,
		queue:    queue,
		handlers: handlers,
		infra:    newInfraRetrier(config.InfraRetries, config.InfraBaseDelay),
		newID:    uuid.NewString,
		logger:   logger.With("component", "task_gateway"),
	}, nil
}

// Submit records a pending task and enqueues its descriptor.
// The ticket is released on every path. A task that was recorded but could not
// be enqueued is marked failed and ErrDispatchFailure is returned with its handle.
func (g *Gateway) Submit(ctx context.Context, ticket *Ticket, handlerKind string, payload []byte) (Handle, error) {
	if !ticket.Live() {
		return Handle{}, ErrTicketRequired
	}
	defer ticket.Release()

	if handlerKind == "" {
		return Handle{}, ErrInvalidHandlerKind
	}
	if _, err := g.handlers.Lookup(handlerKind); err != nil {
		return Handle{}, err
	}

	rec := &Record{
		ID:          g.newID(),
		HandlerKind: handlerKind,
		State:       StatePending,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	logger := g.logger.With("task_id", rec.ID, "handler_kind", handlerKind)

	if err := g.store.CreateTask(ctx, rec); err != nil {
		logger.Error("failed to record task", "error", err)
		return Handle{}, &InfrastructureError{Op: "create task", Err: err}
	}
	handle := Handle{TaskID: rec.ID}

	err := g.infra.do(ctx, "enqueue descriptor", func(ctx context.Context) error {
		return g.queue.Enqueue(ctx, rec.Descriptor(1))
	})
	if err != nil {
		logger.Error("failed to dispatch task", "error", err)
		failErr := g.infra.do(context.WithoutCancel(ctx), "record dispatch failure", func(ctx context.Context) error {
			return g.store.FailTask(ctx, rec.ID, ReasonDispatchFailed, err.Error())
		})
		if failErr != nil && !errors.Is(failErr, ErrStateConflict) {
			logger.Error("failed to record dispatch failure, reconciler will retry dispatch",
				"error", failErr)
		}
		return handle, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}

	logger.Info("task submitted")
	return handle, nil
}

// Status returns the last durably recorded state of a task. It never blocks on execution.
func (g *Gateway) Status(ctx context.Context, taskID string) (*Record, error) {
	return g.store.GetTask(ctx, taskID)
}

// Cancel sets the cancel-requested flag. Workers observe it at checkpoints,
// so a running handler is not interrupted.
func (g *Gateway) Cancel(ctx context.Context, taskID string) (*Record, error) {
	rec, err := g.store.RequestCancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	g.logger.Info("task cancellation requested", "task_id", taskID, "state", rec.State)
	return rec, nil
}
