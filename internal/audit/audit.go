// Package audit records every manual redrive attempt and enforces the
// per-actor rate limit that gates them.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/models"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
)

// ErrRateLimited rejects a redrive before any store mutation. No audit row
// is written for a rejected call; it never reached an attempt.
var ErrRateLimited = errors.New("redrive rate limit exceeded")

// Store is the audit slice of the persistence layer.
type Store interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, error)
	AppendRedriveAudit(ctx context.Context, e models.RedriveAuditEntry) (models.RedriveAuditEntry, error)
	ListRedriveAuditByJob(ctx context.Context, jobID uuid.UUID) ([]models.RedriveAuditEntry, error)
	ListRedriveAudit(ctx context.Context, limit, offset int) ([]models.RedriveAuditEntry, error)
	CountRedrivesBy(ctx context.Context, performedBy string, since time.Time) (int64, error)
}

// Limiter decides whether an actor may attempt another redrive.
type Limiter interface {
	Allow(ctx context.Context, actor string) (bool, error)
}

// Redriver is the audited redrive entry point: it snapshots the job,
// checks the actor's rate limit, delegates to the orchestrator, and writes
// exactly one audit row per attempted redrive.
type Redriver struct {
	orch    RedriveFunc
	store   Store
	limiter Limiter
	log     *slog.Logger
}

// RedriveFunc is the orchestrator's redrive operation.
type RedriveFunc func(ctx context.Context, jobID uuid.UUID, traceID string) (models.Job, bool, error)

func NewRedriver(orch RedriveFunc, store Store, limiter Limiter, logger *slog.Logger) *Redriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redriver{orch: orch, store: store, limiter: limiter, log: logger.With("component", "redrive")}
}

// Redrive performs one audited redrive attempt on behalf of actor.
// Outcomes map to audit rows: created=true writes SUCCESS, created=false
// writes SKIPPED, an error writes FAILED and propagates.
func (r *Redriver) Redrive(ctx context.Context, jobID uuid.UUID, actor models.Actor, traceID, reason string) (models.Job, bool, error) {
	allowed, err := r.limiter.Allow(ctx, actor.Name)
	if err != nil {
		return models.Job{}, false, err
	}
	if !allowed {
		telemetry.RedriveRejected.Inc()
		r.log.Warn("redrive rate limit exceeded", "actor", actor.Name, "job_id", jobID)
		return models.Job{}, false, ErrRateLimited
	}

	// Snapshot before the attempt so the audit row captures the state the
	// operator acted on, not the state the redrive produced.
	snapshot, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, false, err
	}

	entry := models.RedriveAuditEntry{
		JobID:                snapshot.JobID,
		IdempotencyKey:       snapshot.IdempotencyKey,
		PreviousStatus:       snapshot.Status,
		PreviousAttemptCount: snapshot.AttemptCount,
		PerformedBy:          actor.Name,
		PerformedAt:          time.Now().UTC(),
		SourceIP:             actor.SourceIP,
		UserAgent:            actor.UserAgent,
		TraceID:              traceID,
		Reason:               reason,
	}

	job, created, err := r.orch(ctx, jobID, traceID)
	switch {
	case err != nil:
		entry.Outcome = models.RedriveFailed
		entry.ErrorMessage = err.Error()
		if _, auditErr := r.store.AppendRedriveAudit(ctx, entry); auditErr != nil {
			r.log.Error("audit write failed", "job_id", jobID, "error", auditErr)
		}
		return models.Job{}, false, err

	case created:
		entry.Outcome = models.RedriveSuccess
		r.log.Info("job redriven", "job_id", jobID, "actor", actor.Name,
			"previous_status", entry.PreviousStatus, "attempt", job.AttemptCount)

	default:
		entry.Outcome = models.RedriveSkipped
		entry.ErrorMessage = "job status not eligible for redrive: " + string(snapshot.Status)
		r.log.Info("redrive skipped", "job_id", jobID, "actor", actor.Name, "status", snapshot.Status)
	}

	if _, auditErr := r.store.AppendRedriveAudit(ctx, entry); auditErr != nil {
		return models.Job{}, false, auditErr
	}
	return job, created, nil
}

// HistoryForJob lists the audit rows for one job, newest first.
func (r *Redriver) HistoryForJob(ctx context.Context, jobID uuid.UUID) ([]models.RedriveAuditEntry, error) {
	return r.store.ListRedriveAuditByJob(ctx, jobID)
}

// History lists the global audit trail, newest first.
func (r *Redriver) History(ctx context.Context, limit, offset int) ([]models.RedriveAuditEntry, error) {
	return r.store.ListRedriveAudit(ctx, limit, offset)
}
