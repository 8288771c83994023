package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joeylife94/asgard-sub000/internal/events"
	"github.com/joeylife94/asgard-sub000/internal/models"
	"github.com/joeylife94/asgard-sub000/internal/store"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
)

// ErrCodeDeadLetter marks failures applied from the DLQ topic when the
// event itself carries no error code.
const ErrCodeDeadLetter = "DLQ_FAILED"

// DeadLetterReconciler marks jobs FAILED when their messages land on the
// DLQ topic. An event that references no known job is logged and dropped;
// store failures propagate so the container redelivers.
type DeadLetterReconciler struct {
	store Store
	log   *slog.Logger
}

func NewDeadLetterReconciler(st Store, logger *slog.Logger) *DeadLetterReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterReconciler{store: st, log: logger.With("component", "dlq-reconciler")}
}

func (r *DeadLetterReconciler) Handle(ctx context.Context, raw []byte) error {
	ev, err := events.DecodeDeadLetter(raw)
	if err != nil {
		return err
	}

	job, found, err := r.findJob(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		r.log.Warn("dead letter references no known job",
			"original_topic", ev.OriginalTopic, "partition", ev.OriginalPartition, "offset", ev.OriginalOffset)
		return nil
	}

	errorCode := ev.ErrorCode
	if errorCode == "" {
		errorCode = ErrCodeDeadLetter
	}
	outcome, err := r.store.MarkFailed(ctx, job.JobID, errorCode, ev.ErrorMessage, ev.TraceID)
	if err != nil {
		return err
	}
	if outcome == store.FailApplied {
		telemetry.JobsDeadLettered.Inc()
	}
	r.log.Warn("dead letter applied",
		"job_id", job.JobID, "error_code", errorCode,
		"original_topic", ev.OriginalTopic, "partition", ev.OriginalPartition, "offset", ev.OriginalOffset)
	return nil
}

// findJob resolves the event's job by id, falling back to the idempotency
// key when the id is absent or stale.
func (r *DeadLetterReconciler) findJob(ctx context.Context, ev events.DeadLetterEvent) (models.Job, bool, error) {
	if ev.JobID != nil {
		job, err := r.store.GetJob(ctx, *ev.JobID)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Job{}, false, err
		}
	}
	if ev.IdempotencyKey != "" {
		job, err := r.store.FindByIdempotencyKey(ctx, ev.IdempotencyKey)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Job{}, false, err
		}
	}
	return models.Job{}, false, nil
}
