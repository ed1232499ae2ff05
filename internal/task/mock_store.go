package task

import (
	"context"
	"time"
)

// MockResultStore wraps a MemoryStore and lets tests override individual
// operations to inject infrastructure faults. Nil function fields fall
// through to the embedded store.
type MockResultStore struct {
	*MemoryStore

	CreateTaskFn           func(ctx context.Context, rec *Record) error
	GetTaskFn              func(ctx context.Context, id string) (*Record, error)
	MarkRunningFn          func(ctx context.Context, id string) (*Record, error)
	CompleteTaskFn         func(ctx context.Context, id string, result []byte) error
	RecordAttemptFailureFn func(ctx context.Context, id string, errMsg string) error
	FailTaskFn             func(ctx context.Context, id string, reason FailureReason, errMsg string) error
	MarkDeadLetteredFn     func(ctx context.Context, id string, errMsg string) error
	RequestCancelFn        func(ctx context.Context, id string) (*Record, error)
	ListStaleFn            func(ctx context.Context, state State, olderThan time.Duration, limit int) ([]*Record, error)
}

// NewMockResultStore creates a MockResultStore backed by a fresh MemoryStore
func NewMockResultStore() *MockResultStore {
	return &MockResultStore{MemoryStore: NewMemoryStore()}
}

func (m *MockResultStore) CreateTask(ctx context.Context, rec *Record) error {
	if m.CreateTaskFn != nil {
		return m.CreateTaskFn(ctx, rec)
	}
	return m.MemoryStore.CreateTask(ctx, rec)
}

func (m *MockResultStore) GetTask(ctx context.Context, id string) (*Record, error) {
	if m.GetTaskFn != nil {
		return m.GetTaskFn(ctx, id)
	}
	return m.MemoryStore.GetTask(ctx, id)
}

func (m *MockResultStore) MarkRunning(ctx context.Context, id string) (*Record, error) {
	if m.MarkRunningFn != nil {
		return m.MarkRunningFn(ctx, id)
	}
	return m.MemoryStore.MarkRunning(ctx, id)
}

func (m *MockResultStore) CompleteTask(ctx context.Context, id string, result []byte) error {
	if m.CompleteTaskFn != nil {
		return m.CompleteTaskFn(ctx, id, result)
	}
	return m.MemoryStore.CompleteTask(ctx, id, result)
}

func (m *MockResultStore) RecordAttemptFailure(ctx context.Context, id string, errMsg string) error {
	if m.RecordAttemptFailureFn != nil {
		return m.RecordAttemptFailureFn(ctx, id, errMsg)
	}
	return m.MemoryStore.RecordAttemptFailure(ctx, id, errMsg)
}

func (m *MockResultStore) FailTask(ctx context.Context, id string, reason FailureReason, errMsg string) error {
	if m.FailTaskFn != nil {
		return m.FailTaskFn(ctx, id, reason, errMsg)
	}
	return m.MemoryStore.FailTask(ctx, id, reason, errMsg)
}

func (m *MockResultStore) MarkDeadLettered(ctx context.Context, id string, errMsg string) error {
	if m.MarkDeadLetteredFn != nil {
		return m.MarkDeadLetteredFn(ctx, id, errMsg)
	}
	return m.MemoryStore.MarkDeadLettered(ctx, id, errMsg)
}

func (m *MockResultStore) RequestCancel(ctx context.Context, id string) (*Record, error) {
	if m.RequestCancelFn != nil {
		return m.RequestCancelFn(ctx, id)
	}
	return m.MemoryStore.RequestCancel(ctx, id)
}

func (m *MockResultStore) ListStale(ctx context.Context, state State, olderThan time.Duration, limit int) ([]*Record, error) {
	if m.ListStaleFn != nil {
		return m.ListStaleFn(ctx, state, olderThan, limit)
	}
	return m.MemoryStore.ListStale(ctx, state, olderThan, limit)
}
