package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/taskgate/internal/task"
)

// SubmitTaskRequest is the body of POST /api/tasks.
type SubmitTaskRequest struct {
	HandlerKind string          `json:"handler_kind" validate:"required,max=64"`
	Payload     json.RawMessage `json:"payload"`
}

// SubmitTaskResponse is returned when a task is accepted.
type SubmitTaskResponse struct {
	TaskID string     `json:"task_id"`
	State  task.State `json:"state"`
}

// TaskResponse is the client view of a task record.
type TaskResponse struct {
	TaskID          string             `json:"task_id"`
	HandlerKind     string             `json:"handler_kind"`
	State           task.State         `json:"state"`
	Result          json.RawMessage    `json:"result,omitempty"`
	Error           string             `json:"error,omitempty"`
	FailureReason   task.FailureReason `json:"failure_reason,omitempty"`
	CancelRequested bool               `json:"cancel_requested"`
	Attempt         int                `json:"attempt"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// DeadLetterResponse is one entry of GET /api/dead-letters.
type DeadLetterResponse struct {
	TaskID         string    `json:"task_id"`
	HandlerKind    string    `json:"handler_kind"`
	FinalAttempt   int       `json:"final_attempt"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// DeadLetterListResponse wraps the dead-letter listing.
type DeadLetterListResponse struct {
	DeadLetters []DeadLetterResponse `json:"dead_letters"`
	Count       int                  `json:"count"`
}

// HealthResponse reports liveness plus admission load.
type HealthResponse struct {
	Status            string `json:"status"`
	InFlight          int64  `json:"in_flight"`
	AdmissionCapacity int64  `json:"admission_capacity"`
}

// rawOrString returns b as raw JSON when it is valid JSON, otherwise as a
// JSON string.
func rawOrString(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return quoted
}

func recordToResponse(rec *task.Record) TaskResponse {
	return TaskResponse{
		TaskID:          rec.ID,
		HandlerKind:     rec.HandlerKind,
		State:           rec.State,
		Result:          rawOrString(rec.Result),
		Error:           rec.Error,
		FailureReason:   rec.FailureReason,
		CancelRequested: rec.CancelRequested,
		Attempt:         rec.Attempt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func deadLetterToResponse(msg task.DeadLetterMessage) DeadLetterResponse {
	return DeadLetterResponse{
		TaskID:         msg.TaskID,
		HandlerKind:    msg.HandlerKind,
		FinalAttempt:   msg.FinalAttempt,
		LastError:      msg.LastError,
		DeadLetteredAt: msg.DeadLetteredAt,
	}
}
