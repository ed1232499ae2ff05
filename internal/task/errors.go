package task

import (
	"errors"
	"fmt"
)

// Error taxonomy of the submission and execution pipeline
var (
	// ErrAdmissionRejected is returned when the limiter has no free capacity.
	// Callers should back off and retry later; it is not a system fault.
	ErrAdmissionRejected = errors.New("admission rejected: capacity exhausted")

	// ErrDispatchFailure is returned when a task was recorded but never enqueued
	ErrDispatchFailure = errors.New("task recorded but never dispatched")

	// ErrHandlerFailure matches every HandlerError
	ErrHandlerFailure = errors.New("handler execution failed")

	// ErrInfrastructure matches every InfrastructureError
	ErrInfrastructure = errors.New("infrastructure unavailable")

	// ErrDeadLettered marks a task whose retries are exhausted
	ErrDeadLettered = errors.New("task dead-lettered after exhausting retries")

	// ErrCancelled marks a task stopped through its cancel-requested flag
	ErrCancelled = errors.New("task cancelled")
)

// Contract errors returned by stores, brokers and the registry
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskExists         = errors.New("task already exists")
	ErrStateConflict      = errors.New("task state does not allow this transition")
	ErrLeaseLost          = errors.New("lease expired or held by another consumer")
	ErrBrokerClosed       = errors.New("broker is closed")
	ErrHandlerNotFound    = errors.New("no handler registered for handler kind")
	ErrHandlerExists      = errors.New("handler already registered for handler kind")
	ErrInvalidHandlerKind = errors.New("handler kind must not be empty")
	ErrTicketRequired     = errors.New("a live admission ticket is required")
	ErrNilDependency      = errors.New("dependency cannot be nil")
)

// HandlerError wraps an error raised by a task handler.
// It is recoverable through the retry policy.
type HandlerError struct {
	Kind string
	Err  error
}

// Error implements the error interface for HandlerError.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed: %v", e.Kind, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Is reports ErrHandlerFailure as a match.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailure
}

// InfrastructureError wraps a Result Store or Broker failure that persisted
// through local retries. It is never attributed to the task.
type InfrastructureError struct {
	Op  string
	Err error
}

// Error implements the error interface for InfrastructureError.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Is reports ErrInfrastructure as a match.
func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}
