package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/taskgate/internal/platform/logger"
	"github.com/phrazzld/taskgate/internal/store"
	"github.com/phrazzld/taskgate/internal/task"
)

const taskColumns = `id, handler_kind, state, payload, result, error_message, failure_reason,
	cancel_requested, attempt, created_at, updated_at`

const terminalStates = `('succeeded', 'failed', 'dead-lettered')`

// TaskStore implements task.ResultStore using PostgreSQL
type TaskStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ task.ResultStore = (*TaskStore)(nil)

// NewTaskStore creates a new TaskStore
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{
		db:  db,
		now: time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*task.Record, error) {
	var (
		rec    task.Record
		state  string
		reason string
	)
	err := row.Scan(
		&rec.ID,
		&rec.HandlerKind,
		&state,
		&rec.Payload,
		&rec.Result,
		&rec.Error,
		&reason,
		&rec.CancelRequested,
		&rec.Attempt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.State = task.State(state)
	rec.FailureReason = task.FailureReason(reason)
	return &rec, nil
}

// CreateTask inserts a new task record
func (s *TaskStore) CreateTask(ctx context.Context, rec *task.Record) error {
	log := logger.FromContext(ctx)

	now := s.now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	state := rec.State
	if state == "" {
		state = task.StatePending
	}
	payload := rec.Payload
	if payload == nil {
		payload = []byte{}
	}

	query := `
		INSERT INTO tasks (id, handler_kind, state, payload, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.HandlerKind,
		string(state),
		payload,
		rec.Attempt,
		createdAt,
		now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", task.ErrTaskExists, rec.ID)
		}
		log.Error("failed to create task",
			"task_id", rec.ID,
			"handler_kind", rec.HandlerKind,
			"error", err)
		return store.NewStoreError("task", "create", "insert failed", MapError(err))
	}
	return nil
}

// GetTask retrieves a task record by id
func (s *TaskStore) GetTask(ctx context.Context, id string) (*task.Record, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrTaskNotFound
		}
		return nil, store.NewStoreError("task", "get", "query failed", MapError(err))
	}
	return rec, nil
}

// MarkRunning claims a pending or running record and increments its attempt count
func (s *TaskStore) MarkRunning(ctx context.Context, id string) (*task.Record, error) {
	query := `
		UPDATE tasks
		SET state = 'running', attempt = attempt + 1, updated_at = $2
		WHERE id = $1 AND state IN ('pending', 'running')
		RETURNING ` + taskColumns
	return s.transition(ctx, "mark running", id, query, id, s.now().UTC())
}

// CompleteTask stores the result of a running task and marks it succeeded
func (s *TaskStore) CompleteTask(ctx context.Context, id string, result []byte) error {
	if result == nil {
		result = []byte{}
	}
	query := `
		UPDATE tasks
		SET state = 'succeeded', result = $2, error_message = '', updated_at = $3
		WHERE id = $1 AND state = 'running'
		RETURNING ` + taskColumns
	_, err := s.transition(ctx, "complete", id, query, id, result, s.now().UTC())
	return err
}

// RecordAttemptFailure stores the error of a failed attempt without leaving running
func (s *TaskStore) RecordAttemptFailure(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE tasks
		SET error_message = $2, updated_at = $3
		WHERE id = $1 AND state = 'running'
		RETURNING ` + taskColumns
	_, err := s.transition(ctx, "record attempt failure", id, query, id, errMsg, s.now().UTC())
	return err
}

// FailTask marks a task failed with the given reason. Dispatch failures
// apply to pending tasks, every other reason to running ones.
func (s *TaskStore) FailTask(ctx context.Context, id string, reason task.FailureReason, errMsg string) error {
	query := `
		UPDATE tasks
		SET state = 'failed', failure_reason = $2, error_message = $3, updated_at = $4
		WHERE id = $1
		  AND state = CASE WHEN $2 = '` + string(task.ReasonDispatchFailed) + `' THEN 'pending' ELSE 'running' END
		RETURNING ` + taskColumns
	_, err := s.transition(ctx, "fail", id, query, id, string(reason), errMsg, s.now().UTC())
	return err
}

// MarkDeadLettered marks a running task dead-lettered
func (s *TaskStore) MarkDeadLettered(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE tasks
		SET state = 'dead-lettered', error_message = $2, updated_at = $3
		WHERE id = $1 AND state = 'running'
		RETURNING ` + taskColumns
	_, err := s.transition(ctx, "dead-letter", id, query, id, errMsg, s.now().UTC())
	return err
}

// RequestCancel flags a non-terminal task for cancellation. Terminal tasks are returned unchanged.
func (s *TaskStore) RequestCancel(ctx context.Context, id string) (*task.Record, error) {
	query := `
		UPDATE tasks
		SET cancel_requested = TRUE, updated_at = $2
		WHERE id = $1 AND state NOT IN ` + terminalStates + `
		RETURNING ` + taskColumns

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id, s.now().UTC()))
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetTask(ctx, id)
	}
	return nil, store.NewStoreError("task", "cancel", "update failed", MapError(err))
}

// ListStale returns records in state whose last update is older than olderThan
func (s *TaskStore) ListStale(ctx context.Context, state task.State, olderThan time.Duration, limit int) ([]*task.Record, error) {
	log := logger.FromContext(ctx)

	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	cutoff := s.now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx, query, string(state), cutoff, limit)
	if err != nil {
		return nil, store.NewStoreError("task", "list stale", "query failed", MapError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.Error("failed to close rows", "error", cerr)
		}
	}()

	var records []*task.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list stale", "scan failed", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list stale", "iteration failed", err)
	}
	return records, nil
}

// PurgeTerminal deletes terminal records older than olderThan
func (s *TaskStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM tasks WHERE state IN ` + terminalStates + ` AND updated_at < $1`

	result, err := s.db.ExecContext(ctx, query, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, store.NewStoreError("task", "purge", "delete failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// transition runs a conditional UPDATE ... RETURNING. When no row matches it
// reads the record to tell a missing task from a disallowed transition.
func (s *TaskStore) transition(ctx context.Context, op, id, query string, args ...any) (*task.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.FromContext(ctx).Error("task transition failed",
			"task_id", id,
			"op", op,
			"error", err)
		return nil, store.NewStoreError("task", op, "update failed", MapError(err))
	}

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: cannot %s task %s in state %s", task.ErrStateConflict, op, id, current.State)
}
