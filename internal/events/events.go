// Package events defines the broker event schemas exchanged with the
// analysis worker. Field names follow the snake_case wire contract; every
// event carries a schema_version for forward compatibility.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const SchemaVersion = 1

// ErrMalformed marks an event that cannot be reconciled and must be routed
// to the broker's error path instead of being retried indefinitely.
var ErrMalformed = errors.New("malformed event")

// Result statuses reported by the worker.
const (
	ResultSucceeded = "SUCCEEDED"
	ResultFailed    = "FAILED"
)

var validate = validator.New()

// RequestEvent asks the worker to analyze one unit of work. Messages are
// keyed by job_id so request, result, and dead-letter records for the same
// job serialize onto one partition.
type RequestEvent struct {
	SchemaVersion  int            `json:"schema_version"`
	JobID          uuid.UUID      `json:"job_id" validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
	WorkRef        string         `json:"work_ref" validate:"required"`
	Priority       string         `json:"priority,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	ModelPolicy    map[string]any `json:"model_policy,omitempty"`
	Timestamp      time.Time      `json:"timestamp_utc"`
}

// ResultEvent reports the outcome of an analysis attempt.
type ResultEvent struct {
	SchemaVersion int            `json:"schema_version"`
	JobID         uuid.UUID      `json:"job_id" validate:"required"`
	Status        string         `json:"status" validate:"required,oneof=SUCCEEDED FAILED"`
	Summary       string         `json:"summary,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	ModelUsed     string         `json:"model_used,omitempty"`
	LatencyMs     *int64         `json:"latency_ms,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	WorkRef       string         `json:"work_ref,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     *time.Time     `json:"timestamp_utc,omitempty"`
}

// DeadLetterEvent is produced by the broker error-handling layer after a
// consumer exhausts its delivery attempts for a message.
type DeadLetterEvent struct {
	SchemaVersion     int            `json:"schema_version"`
	JobID             *uuid.UUID     `json:"job_id,omitempty"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	TraceID           string         `json:"trace_id,omitempty"`
	OriginalTopic     string         `json:"original_topic,omitempty"`
	OriginalPartition int            `json:"original_partition"`
	OriginalOffset    int64          `json:"original_offset"`
	FailedAt          time.Time      `json:"failed_at_utc"`
	Payload           map[string]any `json:"payload,omitempty"`
}

// DecodeResult parses and validates a result event. A nil job id or an
// unknown status is malformed, not transient.
func DecodeResult(raw []byte) (ResultEvent, error) {
	var ev ResultEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}

// DecodeDeadLetter parses a dead-letter event. Both identifiers may be
// absent; the reconciler decides whether anything is left to do.
func DecodeDeadLetter(raw []byte) (DeadLetterEvent, error) {
	var ev DeadLetterEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}
