package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status accepts no further result events.
// FAILED still exits via an explicit redrive; SUCCEEDED never does.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is the durable record of one analysis request. Rows are mutated only
// through the store's transition methods and are never deleted here.
type Job struct {
	JobID          uuid.UUID      `json:"job_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         JobStatus      `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	WorkRef        string         `json:"work_ref"`
	TraceID        *string        `json:"trace_id,omitempty"`
	ModelPolicy    map[string]any `json:"model_policy,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	ResultRef      *int64         `json:"result_ref,omitempty"`
	ResultSummary  *string        `json:"result_summary,omitempty"`
	ResultPayload  map[string]any `json:"result_payload,omitempty"`
	ErrorCode      *string        `json:"error_code,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
}
