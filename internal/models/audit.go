package models

import (
	"time"

	"github.com/google/uuid"
)

// RedriveOutcome classifies what a manual redrive attempt achieved.
type RedriveOutcome string

const (
	RedriveSuccess RedriveOutcome = "SUCCESS"
	RedriveFailed  RedriveOutcome = "FAILED"
	// RedriveSkipped means the job was not in a redrivable state.
	RedriveSkipped RedriveOutcome = "SKIPPED"
)

// RedriveAuditEntry is one append-only row per redrive attempt. The
// idempotency key and pre-attempt snapshot are denormalized so the audit
// trail stays meaningful even after the job moves on.
type RedriveAuditEntry struct {
	ID                   int64          `json:"id"`
	JobID                uuid.UUID      `json:"job_id"`
	IdempotencyKey       string         `json:"idempotency_key"`
	PreviousStatus       JobStatus      `json:"previous_status"`
	PreviousAttemptCount int            `json:"previous_attempt_count"`
	PerformedBy          string         `json:"performed_by"`
	PerformedAt          time.Time      `json:"performed_at"`
	SourceIP             string         `json:"source_ip,omitempty"`
	UserAgent            string         `json:"user_agent,omitempty"`
	TraceID              string         `json:"trace_id,omitempty"`
	Reason               string         `json:"reason,omitempty"`
	Outcome              RedriveOutcome `json:"outcome"`
	ErrorMessage         string         `json:"error_message,omitempty"`
}

// Actor identifies who triggered a redrive. It is threaded explicitly
// through the orchestrator and audit calls rather than read from any
// ambient request context.
type Actor struct {
	Name      string
	SourceIP  string
	UserAgent string
}
