package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReconcilerConfig controls recovery of tasks whose descriptors were lost
type ReconcilerConfig struct {
	// SweepInterval defines how often to sweep; defaults to 1 minute
	SweepInterval time.Duration

	// PendingAge is how long a record may stay pending before it is re-enqueued
	PendingAge time.Duration

	// StuckAge is how long a running record may go without updates before it is re-enqueued
	StuckAge time.Duration

	// RetentionTTL purges terminal records older than this; zero keeps them forever
	RetentionTTL time.Duration

	// BatchSize bounds the records handled per state per sweep
	BatchSize int
}

// DefaultReconcilerConfig returns a ReconcilerConfig with reasonable defaults
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		SweepInterval: time.Minute,
		PendingAge:    2 * time.Minute,
		StuckAge:      30 * time.Minute,
		BatchSize:     500,
	}
}

// SweepStats reports what a sweep did
type SweepStats struct {
	Pending int
	Stuck   int
	Purged  int64
}

// Reconciler re-enqueues pending and stuck records so that a crash between
// recording and dispatching, or a lost broker message, never strands a task.
// Enqueue is a no-op for tasks the broker still holds.
type Reconciler struct {
	store  ResultStore
	queue  Enqueuer
	config ReconcilerConfig
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewReconciler creates a Reconciler
func NewReconciler(store ResultStore, queue Enqueuer, config ReconcilerConfig, logger *slog.Logger) (*Reconciler, error) {
	if store == nil || queue == nil {
		return nil, fmt.Errorf("reconciler: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultReconcilerConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Reconciler{
		store:  store,
		queue:  queue,
		config: config,
		logger: logger.With("component", "reconciler"),
	}, nil
}

// Start runs an initial sweep to recover work from previous runs, then sweeps periodically
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.Sweep(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.monitor(ctx)
	return nil
}

// Stop halts periodic sweeps
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Run returns a function suitable for errgroup.Go
func (r *Reconciler) Run(ctx context.Context) func() error {
	return func() error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		r.Stop()
		return nil
	}
}

func (r *Reconciler) monitor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconciler sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one reconciliation pass
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	pending, err := r.store.ListStale(ctx, StatePending, r.config.PendingAge, r.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	stats.Pending = r.requeue(ctx, pending)

	stuck, err := r.store.ListStale(ctx, StateRunning, r.config.StuckAge, r.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list running tasks: %w", err)
	}
	stats.Stuck = r.requeue(ctx, stuck)

	if r.config.RetentionTTL > 0 {
		stats.Purged, err = r.store.PurgeTerminal(ctx, r.config.RetentionTTL)
		if err != nil {
			return stats, fmt.Errorf("failed to purge terminal tasks: %w", err)
		}
	}

	if stats.Pending > 0 || stats.Stuck > 0 || stats.Purged > 0 {
		r.logger.Info("reconciled tasks",
			"pending_count", stats.Pending,
			"stuck_count", stats.Stuck,
			"purged_count", stats.Purged)
	}
	return stats, nil
}

func (r *Reconciler) requeue(ctx context.Context, records []*Record) int {
	n := 0
	for _, rec := range records {
		if err := r.queue.Enqueue(ctx, rec.Descriptor(rec.Attempt+1)); err != nil {
			if errors.Is(err, ErrBrokerClosed) || ctx.Err() != nil {
				return n
			}
			r.logger.Error("failed to requeue task",
				"task_id", rec.ID,
				"state", rec.State,
				"error", err)
			continue
		}
		n++
	}
	return n
}
