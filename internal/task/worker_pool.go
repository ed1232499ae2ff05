package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to 1.
	WorkerCount int

	// HandlerTimeout bounds a single handler invocation; zero disables the bound
	HandlerTimeout time.Duration

	// LeaseTimeout is the broker lease length; the heartbeat extends it every third of it
	LeaseTimeout time.Duration

	// InfraRetries is the number of local retries for store and broker calls
	InfraRetries int

	// InfraBaseDelay is the first backoff between those retries
	InfraBaseDelay time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:    2,
		HandlerTimeout: 5 * time.Minute,
		LeaseTimeout:   30 * time.Second,
		InfraRetries:   5,
		InfraBaseDelay: 100 * time.Millisecond,
	}
}

// WorkerPool manages a pool of worker goroutines that dequeue descriptors,
// run their handlers, and record the outcome.
type WorkerPool struct {
	broker   Broker
	store    ResultStore
	handlers HandlerLookup
	retries  *RetryManager
	config   WorkerPoolConfig
	infra    infraRetrier
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	broker Broker,
	store ResultStore,
	handlers HandlerLookup,
	retries *RetryManager,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPool, error) {
	if broker == nil || store == nil || handlers == nil || retries == nil {
		return nil, fmt.Errorf("worker pool: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker_pool")

	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = defaults.LeaseTimeout
	}
	if config.InfraBaseDelay <= 0 {
		config.InfraBaseDelay = defaults.InfraBaseDelay
	}

	return &WorkerPool{
		broker:   broker,
		store:    store,
		handlers: handlers,
		retries:  retries,
		config:   config,
		infra:    newInfraRetrier(config.InfraRetries, config.InfraBaseDelay),
		logger:   logger,
	}, nil
}

// Start launches the worker goroutines. Workers stop dequeuing when ctx
// is cancelled or Stop is called; in-flight handlers run to completion.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("worker pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop signals the workers to stop and waits for in-flight tasks to finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	p.logger.Info("stopping worker pool")
	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Run returns a function suitable for errgroup.Go that runs the pool until ctx is done
func (p *WorkerPool) Run(ctx context.Context) func() error {
	return func() error {
		if err := p.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		p.Stop()
		return nil
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		delivery, err := p.broker.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				logger.Debug("worker exiting", "reason", err)
				return
			}
			logger.Error("failed to dequeue", "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.config.InfraBaseDelay):
			}
			continue
		}
		p.process(delivery, logger)
	}
}

// process handles one delivery. Store and broker calls use a context that
// outlives pool shutdown so a started task always records its outcome.
func (p *WorkerPool) process(delivery *Delivery, logger *slog.Logger) {
	ctx := context.WithoutCancel(p.ctx)
	d := delivery.Descriptor
	logger = logger.With(
		"task_id", d.TaskID,
		"handler_kind", d.HandlerKind,
		"delivery_attempt", d.Attempt,
	)

	var rec *Record
	err := p.infra.do(ctx, "get task", func(ctx context.Context) error {
		var err error
		rec, err = p.store.GetTask(ctx, d.TaskID)
		return err
	})
	switch {
	case errors.Is(err, ErrTaskNotFound):
		logger.Warn("descriptor has no task record, dropping")
		p.ack(ctx, delivery.Lease, logger)
		return
	case err != nil:
		p.abandon(err, logger)
		return
	}

	if rec.State.IsTerminal() {
		logger.Debug("dropping duplicate delivery of finished task", "state", rec.State)
		p.ack(ctx, delivery.Lease, logger)
		return
	}

	err = p.infra.do(ctx, "mark running", func(ctx context.Context) error {
		var err error
		rec, err = p.store.MarkRunning(ctx, d.TaskID)
		return err
	})
	switch {
	case errors.Is(err, ErrStateConflict):
		logger.Debug("task finished concurrently, dropping delivery")
		p.ack(ctx, delivery.Lease, logger)
		return
	case err != nil:
		p.abandon(err, logger)
		return
	}
	logger = logger.With("attempt", rec.Attempt)

	// cancellation is observed only once the task is claimed
	if rec.CancelRequested {
		p.cancelTask(ctx, delivery.Lease, logger)
		return
	}

	handler, err := p.handlers.Lookup(rec.HandlerKind)
	if err != nil {
		logger.Error("no handler registered for task")
		p.finish(ctx, delivery.Lease, logger, "fail task", func(ctx context.Context) error {
			return p.store.FailTask(ctx, rec.ID, ReasonHandlerNotFound, err.Error())
		})
		return
	}

	logger.Info("executing task")
	start := time.Now()
	lost := &atomic.Bool{}
	result, herr := p.execute(ctx, handler, rec, delivery.Lease, lost, logger)
	if herr == nil {
		logger.Info("task succeeded", "duration_ms", time.Since(start).Milliseconds())
		p.finish(ctx, delivery.Lease, logger, "complete task", func(ctx context.Context) error {
			return p.store.CompleteTask(ctx, rec.ID, result)
		})
		return
	}

	if !p.ownsLease(ctx, delivery.Lease, lost) {
		logger.Warn("lease lost before failure was recorded, leaving task to its new owner",
			"error", herr)
		return
	}
	p.handleFailure(ctx, delivery, rec, herr, logger)
}

// ownsLease reports whether the lease is still held. Errors other than
// ErrLeaseLost leave the decision to the conditional writes.
func (p *WorkerPool) ownsLease(ctx context.Context, lease Lease, lost *atomic.Bool) bool {
	if lost.Load() {
		return false
	}
	err := p.broker.Extend(ctx, lease, p.config.LeaseTimeout)
	if errors.Is(err, ErrLeaseLost) {
		return false
	}
	return true
}

func (p *WorkerPool) handleFailure(ctx context.Context, delivery *Delivery, rec *Record, herr error, logger *slog.Logger) {
	if p.cancelRequested(ctx, rec.ID) {
		p.cancelTask(ctx, delivery.Lease, logger)
		return
	}

	decision := p.retries.OnFailure(rec.Attempt)
	logger.Warn("task attempt failed",
		"error", herr,
		"decision", decision.Kind.String(),
		"delay_ms", decision.Delay.Milliseconds())

	if decision.Kind == DecisionDeadLetter {
		p.finish(ctx, delivery.Lease, logger, "dead-letter task", func(ctx context.Context) error {
			return p.retries.DeadLetter(ctx, rec.Descriptor(delivery.Descriptor.Attempt), rec.Attempt, herr)
		})
		return
	}

	err := p.infra.do(ctx, "record attempt failure", func(ctx context.Context) error {
		return p.store.RecordAttemptFailure(ctx, rec.ID, herr.Error())
	})
	switch {
	case errors.Is(err, ErrStateConflict):
		p.ack(ctx, delivery.Lease, logger)
		return
	case err != nil:
		p.abandon(err, logger)
		return
	}

	err = p.infra.do(ctx, "nack", func(ctx context.Context) error {
		return p.broker.Nack(ctx, delivery.Lease, decision.Delay)
	})
	if err != nil {
		logger.Warn("failed to schedule retry, lease will expire", "error", err)
	}
}

// execute runs the handler under a timeout while a heartbeat keeps the lease alive
func (p *WorkerPool) execute(ctx context.Context, h Handler, rec *Record, lease Lease, lost *atomic.Bool, logger *slog.Logger) (result []byte, err error) {
	hctx := ctx
	if p.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, p.config.HandlerTimeout)
		defer cancel()
	}
	hctx = withCheckpoint(hctx, func(ctx context.Context) error {
		if p.cancelRequested(ctx, rec.ID) {
			return ErrCancelled
		}
		return nil
	})

	stop := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		p.heartbeat(ctx, lease, stop, lost, logger)
	}()
	defer func() {
		close(stop)
		hb.Wait()
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered in handler", "panic", r)
			result = nil
			err = &HandlerError{Kind: rec.HandlerKind, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, herr := h.Handle(hctx, rec.Payload)
	if herr != nil {
		return nil, &HandlerError{Kind: rec.HandlerKind, Err: herr}
	}
	return out, nil
}

func (p *WorkerPool) heartbeat(ctx context.Context, lease Lease, stop <-chan struct{}, lost *atomic.Bool, logger *slog.Logger) {
	interval := p.config.LeaseTimeout / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.broker.Extend(ctx, lease, p.config.LeaseTimeout); err != nil {
				if errors.Is(err, ErrLeaseLost) {
					logger.Warn("lease lost during execution, task may run twice")
					lost.Store(true)
					return
				}
				logger.Warn("failed to extend lease", "error", err)
			}
		}
	}
}

func (p *WorkerPool) cancelRequested(ctx context.Context, id string) bool {
	rec, err := p.store.GetTask(ctx, id)
	if err != nil {
		p.logger.Debug("cancel checkpoint could not read task", "task_id", id, "error", err)
		return false
	}
	return rec.CancelRequested
}

func (p *WorkerPool) cancelTask(ctx context.Context, lease Lease, logger *slog.Logger) {
	logger.Info("cancel requested, stopping task")
	p.finish(ctx, lease, logger, "cancel task", func(ctx context.Context) error {
		return p.store.FailTask(ctx, lease.TaskID, ReasonCancelled, ErrCancelled.Error())
	})
}

// finish performs a terminal write and acks the lease. A state conflict
// means another delivery already finished the task, which still warrants an ack.
func (p *WorkerPool) finish(ctx context.Context, lease Lease, logger *slog.Logger, op string, write func(ctx context.Context) error) {
	err := p.infra.do(ctx, op, write)
	if err != nil && !errors.Is(err, ErrStateConflict) {
		p.abandon(err, logger)
		return
	}
	if err != nil {
		logger.Debug("task already terminal, dropping result", "op", op)
	}
	p.ack(ctx, lease, logger)
}

func (p *WorkerPool) ack(ctx context.Context, lease Lease, logger *slog.Logger) {
	err := p.infra.do(ctx, "ack", func(ctx context.Context) error {
		return p.broker.Ack(ctx, lease)
	})
	if err != nil {
		logger.Warn("failed to ack delivery, it may be redelivered", "error", err)
	}
}

// abandon leaves the lease to expire so the descriptor is redelivered
// once the infrastructure recovers. No state is written.
func (p *WorkerPool) abandon(err error, logger *slog.Logger) {
	logger.Error("infrastructure unavailable, leaving lease to expire", "error", err)
}
