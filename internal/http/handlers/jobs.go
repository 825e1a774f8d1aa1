package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genproxy/internal/domain"
)

// JobStatus returns the current job record. Unknown or expired ids are a
// 404, deliberately distinct from a FAILED job which is a 200 with the
// failure reason in the body.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Engine.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, job)
}

type batchStatusResponse struct {
	JobID   string             `json:"job_id"`
	Status  domain.JobStatus   `json:"status"`
	Error   string             `json:"error,omitempty"`
	Prompts []string           `json:"prompts"`
	Results []domain.SubResult `json:"results"`
}

// BatchStatus returns the batch view of a job with its live sub-results.
func (a *App) BatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Engine.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.Type != domain.JobTypeImageBatch {
		a.error(w, http.StatusBadRequest, "bad_request", "job is not a batch")
		return
	}
	a.json(w, http.StatusOK, batchStatusResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Error:   job.Error,
		Prompts: job.Prompts,
		Results: job.Results,
	})
}

// JobPackage streams the zip archive of a completed video story.
func (a *App) JobPackage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Engine.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.Type != domain.JobTypeVideoStory {
		a.error(w, http.StatusBadRequest, "bad_request", "job has no downloadable package")
		return
	}
	if job.Status != domain.JobStatusCompleted || job.Result == "" {
		a.error(w, http.StatusConflict, "not_ready", "job has no package yet")
		return
	}

	blob, err := a.Assets.Read(r.Context(), job.Result)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: read package failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read package")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
