package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/models"
)

// FailOutcome reports what MarkFailed actually did.
type FailOutcome int

const (
	// FailApplied means the job transitioned to FAILED.
	FailApplied FailOutcome = iota
	// FailDuplicate means the job was already FAILED; the event is counted
	// but not re-applied.
	FailDuplicate
	// FailAlreadySucceeded means the job reached SUCCEEDED first; a success
	// is never downgraded.
	FailAlreadySucceeded
)

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	IdempotencyKey string
	WorkRef        string
	TraceID        string
	ModelPolicy    map[string]any
}

// CreateOrGet inserts a PENDING job or returns the existing row for the
// idempotency key. Concurrent callers racing on the same key converge on
// one row: the loser of the unique-constraint race re-reads the winner.
func (s *Store) CreateOrGet(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if existing, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.Job{}, false, err
	}

	policyJSON, err := marshalMaybe(p.ModelPolicy)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("marshal model policy: %w", err)
	}

	id := uuid.New()
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_id, idempotency_key, status, attempt_count, work_ref, trace_id, model_policy, created_at)
		VALUES ($1, $2, $3, 0, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+jobColumns,
		id, p.IdempotencyKey, string(models.StatusPending), p.WorkRef, p.TraceID, policyJSON, now)

	job, err := scanJob(row)
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	// Lost the race: another caller claimed the key between our read and insert.
	existing, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("re-read after idempotency conflict: %w", err)
	}
	return existing, false, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

// FindByIdempotencyKey fetches a job by its caller-supplied key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	return scanJob(row)
}

// ListByStatus returns jobs in the given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning records that the request was dispatched. It sets started_at
// once and is a no-op for jobs already in a terminal state, which absorbs
// late or duplicate dispatch acks.
func (s *Store) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = COALESCE(started_at, NOW())
		WHERE job_id = $1 AND status IN ($3, $2)
	`, jobID, string(models.StatusRunning), string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Terminal or missing; verify the row exists so a bogus id still surfaces.
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// MarkSucceeded finalizes the job with its result fields, clearing any
// prior error. Returns false when the job was already SUCCEEDED.
func (s *Store) MarkSucceeded(ctx context.Context, jobID uuid.UUID, resultRef int64, summary string, payload map[string]any, traceID string) (bool, error) {
	payloadJSON, err := marshalMaybe(payload)
	if err != nil {
		return false, fmt.Errorf("marshal result payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, finished_at = NOW(), result_ref = $3, result_summary = $4, result_payload = $5,
		    error_code = NULL, error_message = NULL, trace_id = COALESCE(NULLIF($6, ''), trace_id)
		WHERE job_id = $1 AND status <> $2
	`, jobID, string(models.StatusSucceeded), resultRef, summary, payloadJSON, traceID)
	if err != nil {
		return false, fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// MarkFailed records a failure unless the job already succeeded. A second
// failure for an already-FAILED job is reported as a duplicate and left
// untouched.
func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID, errorCode, errorMessage, traceID string) (FailOutcome, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, finished_at = NOW(), error_code = $3, error_message = $4,
		    trace_id = COALESCE(NULLIF($5, ''), trace_id)
		WHERE job_id = $1 AND status NOT IN ($2, $6)
	`, jobID, string(models.StatusFailed), errorCode, errorMessage, traceID, string(models.StatusSucceeded))
	if err != nil {
		return FailApplied, fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return FailApplied, nil
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return FailApplied, err
	}
	if job.Status == models.StatusSucceeded {
		return FailAlreadySucceeded, nil
	}
	return FailDuplicate, nil
}

// PrepareRetry moves a FAILED job under the attempt ceiling back to PENDING
// as a fresh attempt: error fields and lifecycle timestamps are cleared and
// the attempt count increments. Any other state returns the job unchanged.
func (s *Store) PrepareRetry(ctx context.Context, jobID uuid.UUID, maxAttempts int) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, attempt_count = attempt_count + 1,
		    started_at = NULL, finished_at = NULL, error_code = NULL, error_message = NULL
		WHERE job_id = $1 AND status = $3 AND attempt_count < $4
		RETURNING `+jobColumns,
		jobID, string(models.StatusPending), string(models.StatusFailed), maxAttempts)

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Job{}, fmt.Errorf("prepare retry: %w", err)
	}
	// Ineligible: not FAILED or ceiling reached. Return the row as-is.
	return s.GetJob(ctx, jobID)
}

// UpdateTraceID replaces the correlation id, typically with the redrive
// request's trace.
func (s *Store) UpdateTraceID(ctx context.Context, jobID uuid.UUID, traceID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET trace_id = $2 WHERE job_id = $1
	`, jobID, traceID)
	if err != nil {
		return fmt.Errorf("update trace id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
