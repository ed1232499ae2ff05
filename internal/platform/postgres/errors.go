package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/taskgate/internal/store"
)

// PostgreSQL SQLSTATE codes the task store distinguishes
const (
	uniqueViolationCode      = "23505"
	checkViolationCode       = "23514"
	notNullViolationCode     = "23502"
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
	queryCanceledCode        = "57014"
	adminShutdownCode        = "57P01"
	cannotConnectNowCode     = "57P03"

	// class 08: connection exceptions
	connectionExceptionClass = "08"
)

// MapError translates a driver error into a store sentinel, keeping the
// original error in the chain. Unrecognized errors are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == uniqueViolationCode:
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case pgErr.Code == checkViolationCode:
		return fmt.Errorf("%w: check constraint %s: %w", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case pgErr.Code == notNullViolationCode:
		return fmt.Errorf("%w: column %s is required: %w", store.ErrInvalidEntity, pgErr.ColumnName, err)
	case isTransientCode(pgErr.Code):
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

func isTransientCode(code string) bool {
	switch code {
	case serializationFailureCode, deadlockDetectedCode, queryCanceledCode,
		adminShutdownCode, cannotConnectNowCode:
		return true
	}
	return strings.HasPrefix(code, connectionExceptionClass)
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
