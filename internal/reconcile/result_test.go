package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/events"
	"github.com/joeylife94/asgard-sub000/internal/models"
)

func successEvent(jobID uuid.UUID, summary string) []byte {
	raw, _ := json.Marshal(events.ResultEvent{
		SchemaVersion: events.SchemaVersion,
		JobID:         jobID,
		Status:        events.ResultSucceeded,
		Summary:       summary,
		WorkRef:       "log:1",
	})
	return raw
}

func failureEvent(jobID uuid.UUID, code, msg string) []byte {
	raw, _ := json.Marshal(events.ResultEvent{
		SchemaVersion: events.SchemaVersion,
		JobID:         jobID,
		Status:        events.ResultFailed,
		ErrorCode:     code,
		ErrorMessage:  msg,
	})
	return raw
}

func TestResultSuccessPersistsAndFinishesJob(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	job := st.addJob(models.Job{IdempotencyKey: "k1", Status: models.StatusRunning, WorkRef: "log:1"})

	rec := NewResultReconciler(st, nil, nil)
	if err := rec.Handle(ctx, successEvent(job.JobID, "disk full")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := st.jobs[job.JobID]
	if got.Status != models.StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}
	if got.ResultRef == nil || *got.ResultRef != 1 {
		t.Fatalf("result ref = %v, want 1", got.ResultRef)
	}
	if got.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if _, ok := st.results[job.JobID]; !ok {
		t.Fatal("analysis result not persisted")
	}
}

func TestResultDuplicateSuccessIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	job := st.addJob(models.Job{IdempotencyKey: "k1", Status: models.StatusRunning, WorkRef: "log:1"})
	rec := NewResultReconciler(st, nil, nil)

	ev := successEvent(job.JobID, "disk full")
	if err := rec.Handle(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	firstRef := *st.jobs[job.JobID].ResultRef

	// Replaying the identical event must not touch the stored result.
	if err := rec.Handle(ctx, ev); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if got := *st.jobs[job.JobID].ResultRef; got != firstRef {
		t.Fatalf("result ref changed on replay: %d -> %d", firstRef, got)
	}
	if len(st.results) != 1 {
		t.Fatalf("results persisted = %d, want 1", len(st.results))
	}
}

func TestResultSuccessNeverDowngraded(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	job := st.addJob(models.Job{IdempotencyKey: "k1", Status: models.StatusRunning, WorkRef: "log:1"})
	rec := NewResultReconciler(st, nil, nil)

	if err := rec.Handle(ctx, successEvent(job.JobID, "ok")); err != nil {
		t.Fatalf("success: %v", err)
	}
	if err := rec.Handle(ctx, failureEvent(job.JobID, "LATE", "stale failure")); err != nil {
		t.Fatalf("late failure: %v", err)
	}

	got := st.jobs[job.JobID]
	if got.Status != models.StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}
	if got.ErrorCode != nil {
		t.Fatalf("error code set on succeeded job: %s", *got.ErrorCode)
	}
}

func TestResultFailureAppliedOnce(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	job := st.addJob(models.Job{IdempotencyKey: "k1", Status: models.StatusRunning, WorkRef: "log:1"})
	rec := NewResultReconciler(st, nil, nil)

	if err := rec.Handle(ctx, failureEvent(job.JobID, "TIMEOUT", "worker timed out")); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if st.jobs[job.JobID].Status != models.StatusFailed {
		t.Fatalf("status = %s, want FAILED", st.jobs[job.JobID].Status)
	}

	// Duplicate failure is a counted no-op, not an error.
	if err := rec.Handle(ctx, failureEvent(job.JobID, "TIMEOUT", "worker timed out")); err != nil {
		t.Fatalf("duplicate failure: %v", err)
	}
}

func TestResultExistingRowFinishesJob(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	job := st.addJob(models.Job{IdempotencyKey: "k1", Status: models.StatusRunning, WorkRef: "log:1"})

	// Simulate a crash after the result write but before the status write.
	st.results[job.JobID] = &models.AnalysisResult{ID: 7, JobID: job.JobID, Summary: "recovered"}

	rec := NewResultReconciler(st, nil, nil)
	if err := rec.Handle(ctx, successEvent(job.JobID, "retry delivery")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := st.jobs[job.JobID]
	if got.Status != models.StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}
	if got.ResultRef == nil || *got.ResultRef != 7 {
		t.Fatalf("result ref = %v, want the surviving row id 7", got.ResultRef)
	}
	if len(st.results) != 1 {
		t.Fatalf("results persisted = %d, want 1", len(st.results))
	}
}

func TestResultMalformedEvent(t *testing.T) {
	rec := NewResultReconciler(newFakeStore(), nil, nil)

	for name, raw := range map[string][]byte{
		"not json":       []byte("{{{"),
		"missing job id": []byte(`{"schema_version":1,"status":"SUCCEEDED"}`),
		"missing status": []byte(`{"schema_version":1,"job_id":"` + uuid.NewString() + `"}`),
		"bad status":     []byte(`{"schema_version":1,"job_id":"` + uuid.NewString() + `","status":"MAYBE"}`),
	} {
		if err := rec.Handle(context.Background(), raw); !errors.Is(err, events.ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

type recordingNotifier struct {
	calls []models.AnalysisResult
}

func (n *recordingNotifier) Notify(_ context.Context, res models.AnalysisResult) error {
	n.calls = append(n.calls, res)
	return nil
}

func TestResultHighSeverityTriggersNotification(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	job := st.addJob(models.Job{IdempotencyKey: "k1", Status: models.StatusRunning, WorkRef: "log:1"})
	notifier := &recordingNotifier{}
	rec := NewResultReconciler(st, notifier, nil)

	raw, _ := json.Marshal(events.ResultEvent{
		SchemaVersion: events.SchemaVersion,
		JobID:         job.JobID,
		Status:        events.ResultSucceeded,
		Summary:       "oom loop",
		Severity:      models.SeverityCritical,
		WorkRef:       "log:1",
	})
	if err := rec.Handle(ctx, raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.calls))
	}

	// Replay must not notify again.
	if err := rec.Handle(ctx, raw); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifications after replay = %d, want 1", len(notifier.calls))
	}
}
