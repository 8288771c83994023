package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/models"
	"github.com/joeylife94/asgard-sub000/internal/store"
)

// fakeStore mirrors the store's transition guards in memory.
type fakeStore struct {
	jobs       map[uuid.UUID]*models.Job
	byKey      map[string]uuid.UUID
	results    map[uuid.UUID]*models.AnalysisResult
	nextResult int64
	resolveErr error
	failNext   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[uuid.UUID]*models.Job),
		byKey:   make(map[string]uuid.UUID),
		results: make(map[uuid.UUID]*models.AnalysisResult),
	}
}

func (f *fakeStore) addJob(job models.Job) *models.Job {
	j := job
	if j.JobID == uuid.Nil {
		j.JobID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	f.jobs[j.JobID] = &j
	if j.IdempotencyKey != "" {
		f.byKey[j.IdempotencyKey] = j.JobID
	}
	return &j
}

func (f *fakeStore) GetJob(_ context.Context, jobID uuid.UUID) (models.Job, error) {
	if job, ok := f.jobs[jobID]; ok {
		return *job, nil
	}
	return models.Job{}, store.ErrNotFound
}

func (f *fakeStore) FindByIdempotencyKey(_ context.Context, key string) (models.Job, error) {
	if id, ok := f.byKey[key]; ok {
		return *f.jobs[id], nil
	}
	return models.Job{}, store.ErrNotFound
}

func (f *fakeStore) MarkFailed(_ context.Context, jobID uuid.UUID, errorCode, errorMessage, traceID string) (store.FailOutcome, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return store.FailApplied, err
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return store.FailApplied, store.ErrNotFound
	}
	switch job.Status {
	case models.StatusSucceeded:
		return store.FailAlreadySucceeded, nil
	case models.StatusFailed:
		return store.FailDuplicate, nil
	}
	now := time.Now().UTC()
	job.Status = models.StatusFailed
	job.FinishedAt = &now
	job.ErrorCode = &errorCode
	job.ErrorMessage = &errorMessage
	if traceID != "" {
		job.TraceID = &traceID
	}
	return store.FailApplied, nil
}

func (f *fakeStore) MarkSucceeded(_ context.Context, jobID uuid.UUID, resultRef int64, summary string, payload map[string]any, traceID string) (bool, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if job.Status == models.StatusSucceeded {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = models.StatusSucceeded
	job.FinishedAt = &now
	job.ResultRef = &resultRef
	job.ResultSummary = &summary
	job.ResultPayload = payload
	job.ErrorCode = nil
	job.ErrorMessage = nil
	if traceID != "" {
		job.TraceID = &traceID
	}
	return true, nil
}

func (f *fakeStore) FindResultByJobID(_ context.Context, jobID uuid.UUID) (models.AnalysisResult, error) {
	if res, ok := f.results[jobID]; ok {
		return *res, nil
	}
	return models.AnalysisResult{}, store.ErrNotFound
}

func (f *fakeStore) SaveResultAndMarkSucceeded(ctx context.Context, res models.AnalysisResult, traceID string) (models.AnalysisResult, error) {
	job, ok := f.jobs[res.JobID]
	if !ok {
		return models.AnalysisResult{}, store.ErrNotFound
	}
	if job.Status == models.StatusSucceeded {
		return models.AnalysisResult{}, store.ErrDuplicateSucceeded
	}
	f.nextResult++
	res.ID = f.nextResult
	res.CreatedAt = time.Now().UTC()
	stored := res
	f.results[res.JobID] = &stored
	if _, err := f.MarkSucceeded(ctx, res.JobID, res.ID, res.Summary, res.Payload, traceID); err != nil {
		return models.AnalysisResult{}, err
	}
	return res, nil
}

func (f *fakeStore) ResolveWork(_ context.Context, workRef string) (models.WorkItem, error) {
	if f.resolveErr != nil {
		return models.WorkItem{}, f.resolveErr
	}
	return models.WorkItem{Ref: workRef, Severity: "ERROR"}, nil
}
