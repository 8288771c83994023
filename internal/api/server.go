package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joeylife94/asgard-sub000/internal/audit"
	"github.com/joeylife94/asgard-sub000/internal/config"
	"github.com/joeylife94/asgard-sub000/internal/models"
	"github.com/joeylife94/asgard-sub000/internal/orchestrator"
	"github.com/joeylife94/asgard-sub000/internal/store"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
	"github.com/joeylife94/asgard-sub000/internal/workerclient"
)

// JobReader is the read-only store slice the API serves from.
type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.Job, error)
}

// Server wires the gateway-facing HTTP surface. Authentication lives in
// front of this service; actor identity arrives in headers.
type Server struct {
	cfg      config.Config
	jobs     JobReader
	orch     *orchestrator.Orchestrator
	redriver *audit.Redriver
	worker   *workerclient.Client
	log      *slog.Logger
}

func New(cfg config.Config, jobs JobReader, orch *orchestrator.Orchestrator, redriver *audit.Redriver, worker *workerclient.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, jobs: jobs, orch: orch, redriver: redriver, worker: worker, log: logger.With("component", "api")}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1/analysis", func(r chi.Router) {
		r.Post("/logs/{logID}/analyze", s.handleAnalyze)
		r.Get("/jobs/failed", s.handleListFailed)
		r.Get("/jobs/redrive/audit", s.handleGlobalAudit)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/redrive", s.handleRedrive)
		r.Get("/jobs/{jobID}/redrive/audit", s.handleJobAudit)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.worker != nil {
		if _, err := s.worker.Health(r.Context()); err != nil {
			body["worker"] = "unreachable"
		} else {
			body["worker"] = "ok"
		}
		body["worker_breaker"] = s.worker.BreakerState()
	}
	writeJSON(w, http.StatusOK, body)
}

type analyzeRequest struct {
	ModelPolicy map[string]any `json:"model_policy,omitempty"`
}

type submitResponse struct {
	Job     models.Job `json:"job"`
	Created bool       `json:"created"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	logID, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log id")
		return
	}
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req analyzeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	workRef := fmt.Sprintf("log:%d", logID)
	job, created, err := s.orch.SubmitWork(r.Context(), workRef, idempotencyKey, traceID(r), req.ModelPolicy)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "log entry not found")
			return
		}
		s.log.Error("submit failed", "work_ref", workRef, "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, submitResponse{Job: job, Created: created})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("get job failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 20)
	jobs, err := s.jobs.ListByStatus(r.Context(), models.StatusFailed, limit, offset)
	if err != nil {
		s.log.Error("list failed jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type redriveRequest struct {
	Reason string `json:"reason,omitempty"`
}

type redriveResponse struct {
	Job      models.Job `json:"job"`
	Redriven bool       `json:"redriven"`
	Reason   string     `json:"reason,omitempty"`
}

func (s *Server) handleRedrive(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req redriveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	job, redriven, err := s.redriver.Redrive(r.Context(), jobID, actorFromRequest(r), traceID(r), req.Reason)
	switch {
	case errors.Is(err, audit.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.log.Error("redrive failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "redrive failed")
		return
	}

	if !redriven {
		writeJSON(w, http.StatusOK, redriveResponse{Job: job, Redriven: false, Reason: "NOT_ELIGIBLE"})
		return
	}
	writeJSON(w, http.StatusAccepted, redriveResponse{Job: job, Redriven: true})
}

func (s *Server) handleJobAudit(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	entries, err := s.redriver.HistoryForJob(r.Context(), jobID)
	if err != nil {
		s.log.Error("list job audit", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "list audit failed")
		return
	}
	if entries == nil {
		entries = []models.RedriveAuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGlobalAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 20)
	entries, err := s.redriver.History(r.Context(), limit, offset)
	if err != nil {
		s.log.Error("list audit", "error", err)
		writeError(w, http.StatusInternalServerError, "list audit failed")
		return
	}
	if entries == nil {
		entries = []models.RedriveAuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// actorFromRequest builds the explicit actor identity threaded through the
// redrive path. The authenticating proxy sets X-User.
func actorFromRequest(r *http.Request) models.Actor {
	name := r.Header.Get("X-User")
	if name == "" {
		name = "anonymous"
	}
	return models.Actor{
		Name:      name,
		SourceIP:  clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func traceID(r *http.Request) string {
	return r.Header.Get("X-Trace-Id")
}

func pageParams(r *http.Request, defaultSize int) (limit, offset int) {
	size := defaultSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			size = n
		}
	}
	page := 0
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			page = n
		}
	}
	return size, page * size
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
