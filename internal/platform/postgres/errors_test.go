package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/taskgate/internal/platform/postgres"
	"github.com/phrazzld/taskgate/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		SchemaName:     "public",
		TableName:      "tasks",
		ColumnName:     "handler_kind",
		ConstraintName: "tasks_state_check",
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{name: "no rows", err: sql.ErrNoRows, target: store.ErrNotFound},
		{name: "closed connection", err: sql.ErrConnDone, target: store.ErrUnavailable},
		{name: "unique violation", err: newPgError("23505"), target: store.ErrDuplicate},
		{name: "check violation", err: newPgError("23514"), target: store.ErrInvalidEntity},
		{name: "not null violation", err: newPgError("23502"), target: store.ErrInvalidEntity},
		{name: "serialization failure", err: newPgError("40001"), target: store.ErrUnavailable},
		{name: "deadlock", err: newPgError("40P01"), target: store.ErrUnavailable},
		{name: "admin shutdown", err: newPgError("57P01"), target: store.ErrUnavailable},
		{name: "connection failure", err: newPgError("08006"), target: store.ErrUnavailable},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", newPgError("23505")), target: store.ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := postgres.MapError(tt.err)
			assert.ErrorIs(t, mapped, tt.target)
			assert.ErrorIs(t, mapped, tt.err)
		})
	}

	assert.NoError(t, postgres.MapError(nil))

	other := errors.New("connection refused")
	assert.Equal(t, other, postgres.MapError(other))

	syntax := newPgError("42601")
	assert.Equal(t, error(syntax), postgres.MapError(syntax))
}

func TestMapError_NamesConstraint(t *testing.T) {
	t.Parallel()

	assert.Contains(t, postgres.MapError(newPgError("23514")).Error(), "tasks_state_check")
	assert.Contains(t, postgres.MapError(newPgError("23502")).Error(), "handler_kind")
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.False(t, postgres.IsUniqueViolation(nil))
	assert.False(t, postgres.IsUniqueViolation(errors.New("generic error")))
	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23503")))
}
