package task

import (
	"context"
	"time"
)

// State represents the lifecycle position of a task
type State string

// Possible task states. Transitions only move forward:
// pending -> running -> (succeeded | failed | dead-lettered).
const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
	StateDeadLettered State = "dead-lettered"
)

// IsTerminal reports whether the state admits no further transitions
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateDeadLettered:
		return true
	default:
		return false
	}
}

// FailureReason distinguishes why a task ended in StateFailed
type FailureReason string

const (
	// ReasonDispatchFailed marks a task that was recorded but never placed on the queue
	ReasonDispatchFailed FailureReason = "dispatch_failed"

	// ReasonCancelled marks a task whose cancel-requested flag was observed at a checkpoint
	ReasonCancelled FailureReason = "cancelled"

	// ReasonHandlerNotFound marks a task whose handler kind is not registered on the worker
	ReasonHandlerNotFound FailureReason = "handler_not_found"
)

// Record is the durable Result Store entry for a task.
// It is the ground truth for status queries.
type Record struct {
	ID              string        `json:"task_id"`
	HandlerKind     string        `json:"handler_kind"`
	State           State         `json:"state"`
	Payload         []byte        `json:"payload"`
	Result          []byte        `json:"result,omitempty"`
	Error           string        `json:"error,omitempty"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	CancelRequested bool          `json:"cancel_requested"`
	Attempt         int           `json:"attempt"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Err maps a terminal, unsuccessful record onto the error taxonomy.
// It returns nil for pending, running and succeeded records.
func (r *Record) Err() error {
	switch r.State {
	case StateDeadLettered:
		return ErrDeadLettered
	case StateFailed:
		switch r.FailureReason {
		case ReasonDispatchFailed:
			return ErrDispatchFailure
		case ReasonCancelled:
			return ErrCancelled
		case ReasonHandlerNotFound:
			return ErrHandlerNotFound
		default:
			return ErrHandlerFailure
		}
	default:
		return nil
	}
}

// Descriptor returns the broker projection of the record for the given delivery attempt
func (r *Record) Descriptor(attempt int) Descriptor {
	return Descriptor{
		TaskID:      r.ID,
		HandlerKind: r.HandlerKind,
		Payload:     r.Payload,
		Attempt:     attempt,
	}
}

// Descriptor is the message carried by the broker.
// Attempt is the delivery attempt number, starting at 1.
type Descriptor struct {
	TaskID      string `json:"task_id"`
	HandlerKind string `json:"handler_kind"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
}

// DeadLetterMessage is published on the dead-letter channel when a task
// exhausts its retry budget.
type DeadLetterMessage struct {
	Descriptor
	FinalAttempt   int       `json:"final_attempt"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// Lease is a time-bounded exclusive claim on a delivered descriptor.
// Token identifies the claim; operations with a stale token fail with ErrLeaseLost.
type Lease struct {
	TaskID    string
	Token     string
	ExpiresAt time.Time
}

// Delivery pairs a dequeued descriptor with the lease that guards it
type Delivery struct {
	Descriptor Descriptor
	Lease      Lease
}

// Handle is returned to callers on submission and used to poll status
type Handle struct {
	TaskID string `json:"task_id"`
}

// ResultStore defines the durable record of every task.
// All transitions are conditional writes against the current state.
type ResultStore interface {
	// CreateTask persists a new record; fails with ErrTaskExists on id reuse
	CreateTask(ctx context.Context, rec *Record) error

	// GetTask returns the last durably recorded state or ErrTaskNotFound
	GetTask(ctx context.Context, id string) (*Record, error)

	// MarkRunning moves pending or running to running and increments the attempt count.
	// Terminal records yield ErrStateConflict.
	MarkRunning(ctx context.Context, id string) (*Record, error)

	// CompleteTask moves running to succeeded and stores the result
	CompleteTask(ctx context.Context, id string, result []byte) error

	// RecordAttemptFailure stores the last error of a running task that will be retried
	RecordAttemptFailure(ctx context.Context, id string, errMsg string) error

	// FailTask moves a record to failed with the given reason. Only
	// ReasonDispatchFailed applies to pending records; every other reason
	// requires running, so a claimed task always passes through running.
	FailTask(ctx context.Context, id string, reason FailureReason, errMsg string) error

	// MarkDeadLettered moves running to dead-lettered
	MarkDeadLettered(ctx context.Context, id string, errMsg string) error

	// RequestCancel sets the cancel-requested flag on a non-terminal record.
	// Terminal records are returned unchanged.
	RequestCancel(ctx context.Context, id string) (*Record, error)

	// ListStale returns records in the given state not updated for olderThan
	ListStale(ctx context.Context, state State, olderThan time.Duration, limit int) ([]*Record, error)

	// PurgeTerminal deletes terminal records not updated for olderThan
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Enqueuer provides write access to the broker
// allowing the gateway and reconciler to dispatch descriptors
type Enqueuer interface {
	// Enqueue places a descriptor on the queue.
	// Enqueueing a task id that is already queued or leased is a no-op.
	Enqueue(ctx context.Context, d Descriptor) error
}

// DeadLetterPublisher places messages on the dead-letter channel
type DeadLetterPublisher interface {
	// DeadLetter publishes msg once per task id; repeats are no-ops
	DeadLetter(ctx context.Context, msg DeadLetterMessage) error
}

// Broker is an at-least-once delivery channel with lease-based claims
type Broker interface {
	Enqueuer
	DeadLetterPublisher

	// Dequeue blocks until a descriptor is visible, ctx is done, or the broker is closed
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack removes the leased descriptor permanently
	Ack(ctx context.Context, lease Lease) error

	// Nack returns the leased descriptor to the queue after delay
	Nack(ctx context.Context, lease Lease, delay time.Duration) error

	// Extend pushes the lease expiry to now+d
	Extend(ctx context.Context, lease Lease, d time.Duration) error

	// DeadLetters lists up to limit messages from the dead-letter channel, oldest first
	DeadLetters(ctx context.Context, limit int) ([]DeadLetterMessage, error)

	// Close stops deliveries; blocked Dequeue calls return ErrBrokerClosed
	Close() error
}

// DeadLetterSink receives a copy of every dead-letter message for external
// reprocessing (object storage archive, alerting)
type DeadLetterSink interface {
	Archive(ctx context.Context, msg DeadLetterMessage) error
}
