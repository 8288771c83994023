// Package orchestrator composes the job store and the request publisher
// behind the two write paths of the system: submission and redrive.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/events"
	"github.com/joeylife94/asgard-sub000/internal/models"
	"github.com/joeylife94/asgard-sub000/internal/store"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
)

// JobStore is the slice of the store the orchestrator mutates.
type JobStore interface {
	CreateOrGet(ctx context.Context, p store.CreateJobParams) (models.Job, bool, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, error)
	MarkRunning(ctx context.Context, jobID uuid.UUID) error
	PrepareRetry(ctx context.Context, jobID uuid.UUID, maxAttempts int) (models.Job, error)
	UpdateTraceID(ctx context.Context, jobID uuid.UUID, traceID string) error
}

// WorkResolver confirms a unit of work exists and yields its severity.
// The log subsystem owning the data sits behind this interface.
type WorkResolver interface {
	ResolveWork(ctx context.Context, workRef string) (models.WorkItem, error)
}

// RequestPublisher sends a serialized event to a topic, keyed for
// per-job partition affinity.
type RequestPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Orchestrator drives job creation, dispatch, and redrive.
type Orchestrator struct {
	jobs        JobStore
	resolver    WorkResolver
	publisher   RequestPublisher
	topic       string
	maxAttempts int
	log         *slog.Logger
}

func New(jobs JobStore, resolver WorkResolver, publisher RequestPublisher, topic string, maxAttempts int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs:        jobs,
		resolver:    resolver,
		publisher:   publisher,
		topic:       topic,
		maxAttempts: maxAttempts,
		log:         logger.With("component", "orchestrator"),
	}
}

// SubmitWork records a job for the unit of work and dispatches a request
// event. Resubmission with a known idempotency key returns the original
// job with created=false and publishes nothing: the idempotency contract
// promises no duplicate dispatch.
func (o *Orchestrator) SubmitWork(ctx context.Context, workRef, idempotencyKey, traceID string, policy map[string]any) (models.Job, bool, error) {
	work, err := o.resolver.ResolveWork(ctx, workRef)
	if err != nil {
		return models.Job{}, false, err
	}

	job, created, err := o.jobs.CreateOrGet(ctx, store.CreateJobParams{
		IdempotencyKey: idempotencyKey,
		WorkRef:        workRef,
		TraceID:        traceID,
		ModelPolicy:    policy,
	})
	if err != nil {
		return models.Job{}, false, err
	}
	if !created {
		o.log.Info("submission deduplicated", "job_id", job.JobID, "idempotency_key", idempotencyKey)
		return job, false, nil
	}

	if err := o.dispatch(ctx, job, work, traceID); err != nil {
		return models.Job{}, false, err
	}
	telemetry.JobsRequested.Inc()
	return job, true, nil
}

// Redrive re-dispatches a FAILED job as a fresh attempt. When the job is
// not FAILED or the attempt ceiling is reached the job comes back
// unchanged with created=false; the caller records that as a skip.
func (o *Orchestrator) Redrive(ctx context.Context, jobID uuid.UUID, traceID string) (models.Job, bool, error) {
	job, err := o.jobs.PrepareRetry(ctx, jobID, o.maxAttempts)
	if err != nil {
		return models.Job{}, false, err
	}
	if job.Status != models.StatusPending {
		return job, false, nil
	}

	// The stored work reference must still resolve for a new attempt.
	work, err := o.resolver.ResolveWork(ctx, job.WorkRef)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("redrive %s: %w", jobID, err)
	}

	if traceID != "" {
		if err := o.jobs.UpdateTraceID(ctx, jobID, traceID); err != nil {
			return models.Job{}, false, err
		}
		job.TraceID = &traceID
	} else if job.TraceID != nil {
		traceID = *job.TraceID
	}

	if err := o.dispatch(ctx, job, work, traceID); err != nil {
		return models.Job{}, false, err
	}
	telemetry.JobsRedriven.Inc()
	return job, true, nil
}

// dispatch publishes the request event keyed by job id and records the
// dispatch by moving the job to RUNNING.
func (o *Orchestrator) dispatch(ctx context.Context, job models.Job, work models.WorkItem, traceID string) error {
	ev := events.RequestEvent{
		SchemaVersion:  events.SchemaVersion,
		JobID:          job.JobID,
		IdempotencyKey: job.IdempotencyKey,
		WorkRef:        job.WorkRef,
		Priority:       work.Severity,
		TraceID:        traceID,
		ModelPolicy:    job.ModelPolicy,
		Timestamp:      time.Now().UTC(),
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal request event: %w", err)
	}

	if err := o.publisher.Publish(ctx, o.topic, []byte(job.JobID.String()), raw); err != nil {
		return err
	}
	if err := o.jobs.MarkRunning(ctx, job.JobID); err != nil {
		return err
	}

	o.log.Info("analysis request dispatched",
		"job_id", job.JobID, "work_ref", job.WorkRef, "priority", ev.Priority, "attempt", job.AttemptCount)
	return nil
}
