package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/taskgate/internal/api/shared"
	"github.com/phrazzld/taskgate/internal/platform/logger"
	"github.com/phrazzld/taskgate/internal/task"
)

// Admitter hands out admission tickets
type Admitter interface {
	TryAdmit(ctx context.Context) (*task.Ticket, error)
	InFlight() int64
	Capacity() int64
}

// TaskService is the submission gateway as seen by HTTP handlers
type TaskService interface {
	Submit(ctx context.Context, ticket *task.Ticket, handlerKind string, payload []byte) (task.Handle, error)
	Status(ctx context.Context, taskID string) (*task.Record, error)
	Cancel(ctx context.Context, taskID string) (*task.Record, error)
}

// DeadLetterLister reads the dead-letter channel
type DeadLetterLister interface {
	DeadLetters(ctx context.Context, limit int) ([]task.DeadLetterMessage, error)
}

// TaskHandlerConfig tunes the task endpoints
type TaskHandlerConfig struct {
	// RetryAfter is advertised on 429 responses; rounded up to whole seconds
	RetryAfter time.Duration
	// DefaultDeadLetterLimit applies when ?limit is absent
	DefaultDeadLetterLimit int
	// MaxDeadLetterLimit caps ?limit
	MaxDeadLetterLimit int
}

func (c TaskHandlerConfig) withDefaults() TaskHandlerConfig {
	if c.RetryAfter <= 0 {
		c.RetryAfter = time.Second
	}
	if c.DefaultDeadLetterLimit <= 0 {
		c.DefaultDeadLetterLimit = 50
	}
	if c.MaxDeadLetterLimit <= 0 {
		c.MaxDeadLetterLimit = 500
	}
	return c
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	admitter   Admitter
	tasks      TaskService
	deadLetter DeadLetterLister
	config     TaskHandlerConfig
	logger     *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(
	admitter Admitter,
	tasks TaskService,
	deadLetter DeadLetterLister,
	config TaskHandlerConfig,
	logger *slog.Logger,
) (*TaskHandler, error) {
	if admitter == nil || tasks == nil || deadLetter == nil {
		return nil, task.ErrNilDependency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		admitter:   admitter,
		tasks:      tasks,
		deadLetter: deadLetter,
		config:     config.withDefaults(),
		logger:     logger.With(slog.String("component", "task_handler")),
	}, nil
}

func (h *TaskHandler) retryAfterSeconds() int {
	return int(math.Ceil(h.config.RetryAfter.Seconds()))
}

// SubmitTask handles POST /api/tasks
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	ticket, err := h.admitter.TryAdmit(r.Context())
	if err != nil {
		if errors.Is(err, task.ErrAdmissionRejected) {
			HandleAPIError(w, r, err, shared.WithRetryAfter(h.retryAfterSeconds()))
			return
		}
		// Client went away while waiting for a slot
		HandleAPIError(w, r, err)
		return
	}

	handle, err := h.tasks.Submit(r.Context(), ticket, req.HandlerKind, req.Payload)
	if err != nil {
		if handle.TaskID != "" {
			HandleAPIError(w, r, err, shared.WithTaskID(handle.TaskID))
			return
		}
		HandleAPIError(w, r, err)
		return
	}

	log.Debug("task accepted",
		slog.String("task_id", handle.TaskID),
		slog.String("handler_kind", req.HandlerKind))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: handle.TaskID,
		State:  task.StatePending,
	})
}

// GetTask handles GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	rec, err := h.tasks.Status(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, recordToResponse(rec))
}

// CancelTask handles POST /api/tasks/{id}/cancel
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	rec, err := h.tasks.Cancel(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, recordToResponse(rec))
}

// ListDeadLetters handles GET /api/dead-letters
func (h *TaskHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, h.config.DefaultDeadLetterLimit, h.config.MaxDeadLetterLimit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	msgs, err := h.deadLetter.DeadLetters(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, &task.InfrastructureError{Op: "list dead letters", Err: err})
		return
	}

	out := make([]DeadLetterResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, deadLetterToResponse(m))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeadLetterListResponse{DeadLetters: out, Count: len(out)})
}

// Health handles GET /health
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:            "ok",
		InFlight:          h.admitter.InFlight(),
		AdmissionCapacity: h.admitter.Capacity(),
	})
}

// RegisterRoutes mounts the task endpoints on r under /api, plus /health.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", h.SubmitTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Get("/dead-letters", h.ListDeadLetters)
	})
}
