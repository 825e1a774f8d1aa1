package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"genproxy/internal/domain"
	"genproxy/internal/middleware"
)

type imageGenerateRequest struct {
	Type        string   `json:"type,omitempty"`
	Prompt      string   `json:"prompt"`
	Images      []string `json:"images,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}

type batchGenerateRequest struct {
	Prompts     []string `json:"prompts"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}

type jobAcceptedResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// ImagesGenerate accepts a single image or try-on job. The response is
// returned as soon as the PENDING record is persisted; generation runs as
// a spawned continuation.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req imageGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	jobType := domain.JobTypeImageGenerate
	if req.Type == string(domain.JobTypeTryOn) {
		jobType = domain.JobTypeTryOn
	}

	input := domain.JobInput{
		Prompt:      req.Prompt,
		Images:      req.Images,
		AspectRatio: req.AspectRatio,
		Locale:      middleware.LocaleFromContext(r.Context()),
	}
	job, err := a.Engine.CreateJob(r.Context(), jobType, input)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	jobID := job.ID
	a.Engine.Spawn(jobID, func(ctx context.Context) { a.Engine.Advance(ctx, jobID) })

	a.json(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, Status: job.Status})
}

// ImagesBatch accepts an ordered collection of prompts processed as one
// batch job with per-prompt sub-results.
func (a *App) ImagesBatch(w http.ResponseWriter, r *http.Request) {
	var req batchGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	input := domain.JobInput{
		AspectRatio: req.AspectRatio,
		Locale:      middleware.LocaleFromContext(r.Context()),
	}
	job, err := a.Engine.CreateBatch(r.Context(), input, req.Prompts)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: create batch failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create batch")
		return
	}

	jobID := job.ID
	a.Engine.Spawn(jobID, func(ctx context.Context) { a.Engine.RunBatch(ctx, jobID) })

	a.json(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, Status: job.Status})
}
