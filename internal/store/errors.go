package store

import (
	"errors"
	"fmt"
)

// Persistence errors shared by store implementations. Callers match them with errors.Is.
var (
	// ErrNotFound means the row does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate means a unique key is already taken, such as a reused task id
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity means a schema constraint rejected the write.
	// The wrapped error names the constraint or column.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUnavailable means the database could not serve the request right now
	// (lost connection, serialization failure, deadlock, shutdown). Retrying may succeed.
	ErrUnavailable = errors.New("store unavailable")
)

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// StoreError records which entity and operation failed
type StoreError struct {
	Entity    string // e.g. "task"
	Operation string // e.g. "create", "mark running"
	Message   string
	Err       error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Entity, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Entity, e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
