package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/joeylife94/asgard-sub000/internal/models"
)

const auditColumns = `id, job_id, idempotency_key, previous_status, previous_attempt_count,
	performed_by, performed_at, source_ip, user_agent, trace_id, reason, outcome, error_message`

// AppendRedriveAudit inserts one audit row. Rows are write-once; nothing in
// this subsystem updates or deletes them.
func (s *Store) AppendRedriveAudit(ctx context.Context, e models.RedriveAuditEntry) (models.RedriveAuditEntry, error) {
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO redrive_audit_log (job_id, idempotency_key, previous_status, previous_attempt_count,
			performed_by, performed_at, source_ip, user_agent, trace_id, reason, outcome, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''))
		RETURNING id
	`, e.JobID, e.IdempotencyKey, string(e.PreviousStatus), e.PreviousAttemptCount,
		e.PerformedBy, e.PerformedAt, e.SourceIP, e.UserAgent, e.TraceID, e.Reason, string(e.Outcome), e.ErrorMessage).Scan(&e.ID)
	if err != nil {
		return models.RedriveAuditEntry{}, fmt.Errorf("insert redrive audit: %w", err)
	}
	return e, nil
}

// ListRedriveAuditByJob returns the audit history for one job, newest first.
func (s *Store) ListRedriveAuditByJob(ctx context.Context, jobID uuid.UUID) ([]models.RedriveAuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM redrive_audit_log
		WHERE job_id = $1
		ORDER BY performed_at DESC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list audit by job: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// ListRedriveAudit returns the global audit history, newest first.
func (s *Store) ListRedriveAudit(ctx context.Context, limit, offset int) ([]models.RedriveAuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM redrive_audit_log
		ORDER BY performed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// CountRedrivesBy counts audit rows for one actor since the given time.
// This is the sliding-window source for the redrive rate limit.
func (s *Store) CountRedrivesBy(ctx context.Context, performedBy string, since time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM redrive_audit_log
		WHERE performed_by = $1 AND performed_at >= $2
	`, performedBy, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redrives: %w", err)
	}
	return n, nil
}

type auditRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAuditRows(rows auditRows) ([]models.RedriveAuditEntry, error) {
	var entries []models.RedriveAuditEntry
	for rows.Next() {
		var (
			e            models.RedriveAuditEntry
			prevStatus   string
			outcome      string
			sourceIP     pgtype.Text
			userAgent    pgtype.Text
			traceID      pgtype.Text
			reason       pgtype.Text
			errorMessage pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.IdempotencyKey, &prevStatus, &e.PreviousAttemptCount,
			&e.PerformedBy, &e.PerformedAt, &sourceIP, &userAgent, &traceID, &reason, &outcome, &errorMessage); err != nil {
			return nil, fmt.Errorf("scan redrive audit: %w", err)
		}
		e.PreviousStatus = models.JobStatus(prevStatus)
		e.Outcome = models.RedriveOutcome(outcome)
		e.SourceIP = sourceIP.String
		e.UserAgent = userAgent.String
		e.TraceID = traceID.String
		e.Reason = reason.String
		e.ErrorMessage = errorMessage.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
