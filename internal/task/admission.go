package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// LimiterConfig bounds concurrent in-flight submissions
type LimiterConfig struct {
	// MaxConcurrent is the number of submissions allowed in flight at once
	MaxConcurrent int

	// WaitTimeout is how long TryAdmit waits for capacity.
	// Zero rejects immediately when no capacity is free.
	WaitTimeout time.Duration
}

// DefaultLimiterConfig returns the defaults used when none are configured
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxConcurrent: 64,
	}
}

// Limiter is a counting semaphore over in-flight submissions.
// A submission is in flight from TryAdmit until its Ticket is released.
type Limiter struct {
	sem         *semaphore.Weighted
	capacity    int64
	inFlight    atomic.Int64
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewLimiter creates a Limiter with the given capacity
func NewLimiter(config LimiterConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admission_limiter")

	if config.MaxConcurrent <= 0 {
		logger.Warn("invalid admission capacity, using default",
			"provided", config.MaxConcurrent,
			"default", DefaultLimiterConfig().MaxConcurrent)
		config.MaxConcurrent = DefaultLimiterConfig().MaxConcurrent
	}

	return &Limiter{
		sem:         semaphore.NewWeighted(int64(config.MaxConcurrent)),
		capacity:    int64(config.MaxConcurrent),
		waitTimeout: config.WaitTimeout,
		logger:      logger,
	}
}

// Ticket is proof of admission. Releasing it returns one unit of capacity;
// repeated releases are no-ops.
type Ticket struct {
	limiter    *Limiter
	released   atomic.Bool
	AdmittedAt time.Time
}

// Release returns the ticket's capacity to its limiter exactly once
func (t *Ticket) Release() {
	if t == nil || t.limiter == nil {
		return
	}
	if t.released.CompareAndSwap(false, true) {
		t.limiter.inFlight.Add(-1)
		t.limiter.sem.Release(1)
	}
}

// Live reports whether the ticket still holds capacity
func (t *Ticket) Live() bool {
	return t != nil && t.limiter != nil && !t.released.Load()
}

// TryAdmit acquires one unit of capacity or fails with ErrAdmissionRejected.
// With a WaitTimeout configured it waits up to that long for capacity.
func (l *Limiter) TryAdmit(ctx context.Context) (*Ticket, error) {
	if l.waitTimeout <= 0 {
		if !l.sem.TryAcquire(1) {
			l.logger.Debug("admission rejected",
				"in_flight", l.inFlight.Load(),
				"capacity", l.capacity)
			return nil, ErrAdmissionRejected
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
		if err := l.sem.Acquire(waitCtx, 1); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Debug("admission rejected after wait",
				"in_flight", l.inFlight.Load(),
				"capacity", l.capacity,
				"wait_timeout", l.waitTimeout)
			return nil, fmt.Errorf("%w: no capacity within %s", ErrAdmissionRejected, l.waitTimeout)
		}
	}

	l.inFlight.Add(1)
	return &Ticket{limiter: l, AdmittedAt: time.Now()}, nil
}

// Release returns a ticket issued by this limiter. It is equivalent to
// ticket.Release and safe to call more than once.
func (l *Limiter) Release(ticket *Ticket) {
	if ticket == nil || ticket.limiter != l {
		return
	}
	ticket.Release()
}

// InFlight returns the number of admitted, unreleased submissions
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Capacity returns the configured maximum of concurrent submissions
func (l *Limiter) Capacity() int64 {
	return l.capacity
}
