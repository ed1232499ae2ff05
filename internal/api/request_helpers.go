package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var (
	errMissingTaskID = errors.New("task id is required")
	errInvalidTaskID = errors.New("task id has invalid format")
	errInvalidLimit  = errors.New("limit must be a positive integer")
)

// getPathTaskID extracts and validates the {id} path parameter.
func getPathTaskID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return "", errMissingTaskID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errInvalidTaskID
	}
	return id.String(), nil
}

// parseLimit reads the limit query parameter, falling back to def and
// clamping to max.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > max {
		n = max
	}
	return n, nil
}
