package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/churn-analytics/internal/api/middleware"
	"github.com/dvloznov/churn-analytics/internal/config"
	"github.com/dvloznov/churn-analytics/internal/jobs"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

const listRunsLimit = 20

// RunsHandler triggers feature rebuilds and reports their progress. A build
// is tracked twice: as a queue job (by job id) and, once a worker picks it
// up, as a pipeline run (by run id).
type RunsHandler struct {
	publisher jobs.Publisher
	jobs      jobs.JobStore
	runs      RunReader
	log       zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, jobStore jobs.JobStore, runs RunReader, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		publisher: publisher,
		jobs:      jobStore,
		runs:      runs,
		log:       log,
	}
}

// CreateRun handles POST /api/runs. Only the cutoff can be chosen per
// request; the raw-data source is server configuration.
func (h *RunsHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source *string `json:"source"`
		Cutoff string  `json:"cutoff"`
	}
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Source != nil {
		middleware.WriteError(w, http.StatusBadRequest, "source cannot be set per request")
		return
	}
	if req.Cutoff != "" {
		if _, err := config.ParseCutoff(req.Cutoff); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	job := &jobs.BuildFeaturesJob{Cutoff: strings.TrimSpace(req.Cutoff)}
	if err := h.publisher.PublishBuildFeatures(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue build job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue build job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("cutoff", job.Cutoff).Msg("Build job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobList, err := h.jobs.ListJobs(ctx, jobs.JobFilter{
		Status: jobs.JobStatus(r.URL.Query().Get("status")),
		Limit:  listRunsLimit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	runs, err := h.runs.ListRuns(ctx, listRunsLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs": jobList,
		"runs": runs,
	})
}

// GetRun handles GET /api/runs/{id}. The id may be a job id or a run id.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	job, err := h.jobs.GetJob(ctx, id)
	switch {
	case err == nil:
		resp := map[string]any{"job": job}
		if job.RunID != "" {
			if run, err := h.runs.GetRun(ctx, job.RunID); err == nil {
				resp["run"] = run
			}
		}
		middleware.WriteJSON(w, http.StatusOK, resp)
		return
	case !errors.Is(err, jobs.ErrJobNotFound):
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	run, err := h.runs.GetRun(ctx, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"run": run})
}
