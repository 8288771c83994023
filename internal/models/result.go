package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisResult is the persisted outcome of a successful analysis.
// The unique job_id column doubles as the crash-recovery lookup: a result
// row existing without a SUCCEEDED job means the status write was lost.
type AnalysisResult struct {
	ID         int64          `json:"id"`
	JobID      uuid.UUID      `json:"job_id"`
	WorkRef    string         `json:"work_ref"`
	Summary    string         `json:"summary"`
	Severity   string         `json:"severity,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	ModelUsed  string         `json:"model_used,omitempty"`
	LatencyMs  *int64         `json:"latency_ms,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	TraceID    *string        `json:"trace_id,omitempty"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Severities that trigger the downstream notification hook.
const (
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// WorkItem is the resolved unit of work behind a job's work reference.
// Severity feeds the dispatch priority; everything else about the log
// entry stays with its owning subsystem.
type WorkItem struct {
	Ref      string
	Severity string
}
