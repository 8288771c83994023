// Package reconcile applies inbound result and dead-letter events to job
// state. Both reconcilers are safe under at-least-once delivery: duplicates
// are absorbed and counted, and a success is never downgraded.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/events"
	"github.com/joeylife94/asgard-sub000/internal/models"
	"github.com/joeylife94/asgard-sub000/internal/store"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
)

// Store is the reconciliation slice of the persistence layer.
type Store interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, error)
	FindByIdempotencyKey(ctx context.Context, key string) (models.Job, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, errorCode, errorMessage, traceID string) (store.FailOutcome, error)
	MarkSucceeded(ctx context.Context, jobID uuid.UUID, resultRef int64, summary string, payload map[string]any, traceID string) (bool, error)
	FindResultByJobID(ctx context.Context, jobID uuid.UUID) (models.AnalysisResult, error)
	SaveResultAndMarkSucceeded(ctx context.Context, res models.AnalysisResult, traceID string) (models.AnalysisResult, error)
	ResolveWork(ctx context.Context, workRef string) (models.WorkItem, error)
}

// Notifier is the downstream hook for high-severity results. Failures are
// logged, never propagated: notification is best effort, reconciliation
// is not.
type Notifier interface {
	Notify(ctx context.Context, res models.AnalysisResult) error
}

// LogNotifier is the default hook: it only records that a notification
// would have gone out.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, res models.AnalysisResult) error {
	logger := n.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("high-severity analysis notification",
		"job_id", res.JobID, "severity", res.Severity, "summary", res.Summary)
	return nil
}

// ResultReconciler consumes result events and settles job state.
type ResultReconciler struct {
	store    Store
	notifier Notifier
	log      *slog.Logger
}

func NewResultReconciler(st Store, notifier Notifier, logger *slog.Logger) *ResultReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: logger}
	}
	return &ResultReconciler{store: st, notifier: notifier, log: logger.With("component", "result-reconciler")}
}

// Handle applies one result event. Malformed events return
// events.ErrMalformed so the consumer container dead-letters them without
// redelivery; transient store errors propagate for redelivery.
func (r *ResultReconciler) Handle(ctx context.Context, raw []byte) error {
	ev, err := events.DecodeResult(raw)
	if err != nil {
		return err
	}

	if ev.Status == events.ResultFailed {
		return r.applyFailure(ctx, ev)
	}
	return r.applySuccess(ctx, ev)
}

func (r *ResultReconciler) applyFailure(ctx context.Context, ev events.ResultEvent) error {
	outcome, err := r.store.MarkFailed(ctx, ev.JobID, ev.ErrorCode, ev.ErrorMessage, ev.TraceID)
	if err != nil {
		return err
	}
	switch outcome {
	case store.FailDuplicate:
		telemetry.DuplicateResults.WithLabelValues("failed").Inc()
		r.log.Warn("duplicate failure for already failed job", "job_id", ev.JobID)
	case store.FailAlreadySucceeded:
		r.log.Warn("failure event ignored for succeeded job", "job_id", ev.JobID)
	default:
		telemetry.JobsFailed.Inc()
		r.log.Info("job failed", "job_id", ev.JobID, "error_code", ev.ErrorCode)
	}
	return nil
}

// applySuccess runs the three idempotency layers in order: terminal job,
// surviving result row, then the full transactional write.
func (r *ResultReconciler) applySuccess(ctx context.Context, ev events.ResultEvent) error {
	job, err := r.store.GetJob(ctx, ev.JobID)
	if err != nil {
		return err
	}
	if job.Status == models.StatusSucceeded {
		telemetry.DuplicateResults.WithLabelValues("succeeded").Inc()
		r.log.Warn("duplicate result for succeeded job", "job_id", ev.JobID)
		return nil
	}

	// A result row without a SUCCEEDED job means a prior delivery crashed
	// between the result write and the status write. Finish the job with
	// the stored result instead of writing a second one.
	if existing, err := r.store.FindResultByJobID(ctx, ev.JobID); err == nil {
		telemetry.DuplicateResults.WithLabelValues("result_exists").Inc()
		r.log.Warn("result already persisted, finishing job", "job_id", ev.JobID, "result_id", existing.ID)
		if _, err := r.store.MarkSucceeded(ctx, ev.JobID, existing.ID, existing.Summary, nil, ev.TraceID); err != nil {
			return err
		}
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	workRef := ev.WorkRef
	if workRef == "" {
		workRef = job.WorkRef
	}
	if _, err := r.store.ResolveWork(ctx, workRef); err != nil {
		return err
	}

	analyzedAt := time.Now().UTC()
	if ev.Timestamp != nil {
		analyzedAt = *ev.Timestamp
	}
	res, err := r.store.SaveResultAndMarkSucceeded(ctx, models.AnalysisResult{
		JobID:      ev.JobID,
		WorkRef:    workRef,
		Summary:    ev.Summary,
		Severity:   ev.Severity,
		Confidence: ev.Confidence,
		ModelUsed:  ev.ModelUsed,
		LatencyMs:  ev.LatencyMs,
		Payload:    ev.Payload,
		AnalyzedAt: analyzedAt,
	}, ev.TraceID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSucceeded) {
			telemetry.DuplicateResults.WithLabelValues("succeeded").Inc()
			return nil
		}
		return err
	}

	telemetry.JobsSucceeded.Inc()
	if ev.LatencyMs != nil {
		telemetry.ResultLatency.Observe(float64(*ev.LatencyMs) / 1000)
	}
	r.log.Info("analysis result reconciled", "job_id", ev.JobID, "result_id", res.ID)

	if res.Severity == models.SeverityHigh || res.Severity == models.SeverityCritical {
		if err := r.notifier.Notify(ctx, res); err != nil {
			r.log.Error("notification hook failed", "job_id", ev.JobID, "error", err)
		}
	}
	return nil
}
