package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy is the per-task retry budget
type RetryPolicy struct {
	// MaxAttempts is the number of executions before a task is dead-lettered
	MaxAttempts int

	// BaseDelay is multiplied by 2^attempt to get the backoff
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration

	// Jitter adds a random fraction in [0, Jitter] of the delay
	Jitter float64
}

// DefaultRetryPolicy returns three attempts with one second base backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		Jitter:      0,
	}
}

// DecisionKind is the outcome of applying the retry policy
type DecisionKind int

const (
	// DecisionRetry returns the descriptor to the queue after Decision.Delay
	DecisionRetry DecisionKind = iota
	// DecisionDeadLetter routes the task to the dead-letter channel
	DecisionDeadLetter
)

// String returns the log representation of the decision kind
func (k DecisionKind) String() string {
	if k == DecisionRetry {
		return "retry"
	}
	return "dead_letter"
}

// Decision is the result of RetryManager.OnFailure
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}

// RetryManager decides between retrying and dead-lettering failed tasks
// and performs the dead-letter routing.
type RetryManager struct {
	policy    RetryPolicy
	store     ResultStore
	publisher DeadLetterPublisher
	sinks     []DeadLetterSink
	random    func() float64
	now       func() time.Time
	logger    *slog.Logger
}

// RetryOption configures a RetryManager
type RetryOption func(*RetryManager)

// WithJitterSource replaces the random source used for jitter.
// The function must return values in [0, 1).
func WithJitterSource(random func() float64) RetryOption {
	return func(m *RetryManager) {
		if random != nil {
			m.random = random
		}
	}
}

// WithDeadLetterSinks adds sinks that receive a copy of every dead-letter message
func WithDeadLetterSinks(sinks ...DeadLetterSink) RetryOption {
	return func(m *RetryManager) {
		for _, s := range sinks {
			if s != nil {
				m.sinks = append(m.sinks, s)
			}
		}
	}
}

// WithRetryClock overrides the clock used to stamp dead-letter messages
func WithRetryClock(now func() time.Time) RetryOption {
	return func(m *RetryManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewRetryManager creates a RetryManager. Invalid policy values fall back to defaults.
func NewRetryManager(
	policy RetryPolicy,
	store ResultStore,
	publisher DeadLetterPublisher,
	logger *slog.Logger,
	opts ...RetryOption,
) *RetryManager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retry_manager")

	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		logger.Warn("invalid max attempts, using default",
			"provided", policy.MaxAttempts,
			"default", defaults.MaxAttempts)
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaults.BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}

	m := &RetryManager{
		policy:    policy,
		store:     store,
		publisher: publisher,
		random:    rand.Float64,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the effective policy after defaulting
func (m *RetryManager) Policy() RetryPolicy {
	return m.policy
}

// Backoff returns the deterministic delay after the given failed attempt:
// BaseDelay * 2^attempt, capped at MaxDelay.
func (m *RetryManager) Backoff(attempt int) time.Duration {
	delay := m.policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.policy.MaxDelay || delay <= 0 {
			return m.policy.MaxDelay
		}
	}
	if delay > m.policy.MaxDelay {
		return m.policy.MaxDelay
	}
	return delay
}

// OnFailure applies the policy to a task that failed its attempt-th execution.
// The returned delay lies in [Backoff(attempt), Backoff(attempt)*(1+Jitter)].
func (m *RetryManager) OnFailure(attempt int) Decision {
	if attempt >= m.policy.MaxAttempts {
		return Decision{Kind: DecisionDeadLetter}
	}

	delay := m.Backoff(attempt)
	if m.policy.Jitter > 0 {
		delay += time.Duration(m.random() * m.policy.Jitter * float64(delay))
	}
	return Decision{Kind: DecisionRetry, Delay: delay}
}

// DeadLetter marks the record dead-lettered and then publishes the descriptor
// on the dead-letter channel. Only a record that is dead-lettered is ever
// published: a record that finished some other way is left alone. A retried
// call after a failed publish republishes without rerunning the sinks, and
// publishing is idempotent per task id.
func (m *RetryManager) DeadLetter(ctx context.Context, d Descriptor, attempt int, lastErr error) error {
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}

	msg := DeadLetterMessage{
		Descriptor:     d,
		FinalAttempt:   attempt,
		LastError:      errMsg,
		DeadLetteredAt: m.now().UTC(),
	}

	err := m.store.MarkDeadLettered(ctx, d.TaskID, errMsg)
	if errors.Is(err, ErrStateConflict) {
		return m.republish(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to mark task dead-lettered: %w", err)
	}

	if err := m.publisher.DeadLetter(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	m.logger.Warn("task dead-lettered",
		"task_id", d.TaskID,
		"handler_kind", d.HandlerKind,
		"final_attempt", attempt,
		"error", errMsg)

	for _, sink := range m.sinks {
		if err := sink.Archive(ctx, msg); err != nil {
			m.logger.Error("dead letter sink failed",
				"task_id", d.TaskID,
				"error", err)
		}
	}
	return nil
}

// republish repairs a dead-lettered record whose message may not have been
// published. Records in any other state produce no message.
func (m *RetryManager) republish(ctx context.Context, msg DeadLetterMessage) error {
	rec, err := m.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		return fmt.Errorf("failed to read task after state conflict: %w", err)
	}
	if rec.State != StateDeadLettered {
		m.logger.Debug("task already left running state, not dead-lettering",
			"task_id", msg.TaskID,
			"state", rec.State)
		return nil
	}
	if err := m.publisher.DeadLetter(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}
