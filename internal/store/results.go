package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/joeylife94/asgard-sub000/internal/models"
)

const resultColumns = `id, job_id, work_ref, summary, severity, confidence, model_used, latency_ms,
	payload, trace_id, analyzed_at, created_at`

// FindResultByJobID looks up the persisted result for a job. Used as the
// second idempotency layer: a result row surviving a crash that lost the
// job-status write still proves the work was done.
func (s *Store) FindResultByJobID(ctx context.Context, jobID uuid.UUID) (models.AnalysisResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM analysis_results WHERE job_id = $1`, jobID)
	return scanResult(row)
}

// SaveResultAndMarkSucceeded persists the analysis result and finalizes the
// job in one transaction, so a crash can never leave a result row without a
// SUCCEEDED job.
func (s *Store) SaveResultAndMarkSucceeded(ctx context.Context, res models.AnalysisResult, traceID string) (models.AnalysisResult, error) {
	payloadJSON, err := marshalMaybe(res.Payload)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("marshal result payload: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := time.Now().UTC()
	analyzedAt := res.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = now
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO analysis_results (job_id, work_ref, summary, severity, confidence, model_used, latency_ms, payload, trace_id, analyzed_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING id
	`, res.JobID, res.WorkRef, res.Summary, res.Severity, res.Confidence, res.ModelUsed, res.LatencyMs, payloadJSON, traceID, analyzedAt, now).Scan(&res.ID)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("insert analysis result: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = $2, finished_at = NOW(), result_ref = $3, result_summary = $4,
		    error_code = NULL, error_message = NULL, trace_id = COALESCE(NULLIF($5, ''), trace_id)
		WHERE job_id = $1 AND status <> $2
	`, res.JobID, string(models.StatusSucceeded), res.ID, res.Summary, traceID)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("mark succeeded in tx: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The job went SUCCEEDED concurrently; keep that attempt's result
		// and drop ours with the transaction.
		return models.AnalysisResult{}, ErrDuplicateSucceeded
	}

	if err := tx.Commit(ctx); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("commit: %w", err)
	}
	res.AnalyzedAt = analyzedAt
	res.CreatedAt = now
	return res, nil
}

// ErrDuplicateSucceeded reports that SaveResultAndMarkSucceeded lost a
// race against another success for the same job.
var ErrDuplicateSucceeded = errors.New("job already succeeded")

func scanResult(row rowScanner) (models.AnalysisResult, error) {
	var (
		res        models.AnalysisResult
		severity   pgtype.Text
		confidence pgtype.Float8
		modelUsed  pgtype.Text
		latencyMs  pgtype.Int8
		payload    []byte
		traceID    pgtype.Text
	)
	err := row.Scan(
		&res.ID, &res.JobID, &res.WorkRef, &res.Summary, &severity, &confidence, &modelUsed, &latencyMs,
		&payload, &traceID, &res.AnalyzedAt, &res.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisResult{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("scan analysis result: %w", err)
	}
	res.Severity = severity.String
	res.ModelUsed = modelUsed.String
	res.TraceID = textPtr(traceID)
	if confidence.Valid {
		v := confidence.Float64
		res.Confidence = &v
	}
	if latencyMs.Valid {
		v := latencyMs.Int64
		res.LatencyMs = &v
	}
	if len(payload) > 0 {
		if err := unmarshalInto(payload, &res.Payload); err != nil {
			return models.AnalysisResult{}, err
		}
	}
	return res, nil
}
