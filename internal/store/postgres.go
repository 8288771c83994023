package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joeylife94/asgard-sub000/internal/models"
)

// ErrNotFound is returned when a referenced job, result, or log entry does
// not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence. All job state transitions
// go through its methods; each is a single atomic statement (or a single
// transaction) so concurrent transitions cannot interleave.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `job_id, idempotency_key, status, attempt_count, work_ref, trace_id, model_policy,
	created_at, started_at, finished_at, result_ref, result_summary, result_payload, error_code, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job           models.Job
		status        string
		traceID       pgtype.Text
		policyJSON    []byte
		startedAt     pgtype.Timestamptz
		finishedAt    pgtype.Timestamptz
		resultRef     pgtype.Int8
		resultSummary pgtype.Text
		payloadJSON   []byte
		errorCode     pgtype.Text
		errorMessage  pgtype.Text
	)
	err := row.Scan(
		&job.JobID, &job.IdempotencyKey, &status, &job.AttemptCount, &job.WorkRef, &traceID, &policyJSON,
		&job.CreatedAt, &startedAt, &finishedAt, &resultRef, &resultSummary, &payloadJSON, &errorCode, &errorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.TraceID = textPtr(traceID)
	job.ResultSummary = textPtr(resultSummary)
	job.ErrorCode = textPtr(errorCode)
	job.ErrorMessage = textPtr(errorMessage)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if resultRef.Valid {
		v := resultRef.Int64
		job.ResultRef = &v
	}
	if len(policyJSON) > 0 {
		if err := json.Unmarshal(policyJSON, &job.ModelPolicy); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal model policy: %w", err)
		}
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.ResultPayload); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result payload: %w", err)
		}
	}
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func marshalMaybe(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalInto(raw []byte, dst *map[string]any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}
