package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"genproxy/internal/domain"
	"genproxy/internal/middleware"
)

type videoStoryRequest struct {
	Brief       string `json:"brief"`
	SeedImage   string `json:"seed_image,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// VideosStory accepts a high-level brief that is expanded into a
// storyboard and produced scene by scene. The optional seed image anchors
// the first scene for visual continuity.
func (a *App) VideosStory(w http.ResponseWriter, r *http.Request) {
	var req videoStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	input := domain.JobInput{
		Prompt:      req.Brief,
		AspectRatio: req.AspectRatio,
		Locale:      middleware.LocaleFromContext(r.Context()),
	}
	if req.SeedImage != "" {
		input.Images = []string{req.SeedImage}
	}

	job, err := a.Engine.CreateStory(r.Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: create story failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create story")
		return
	}

	jobID := job.ID
	a.Engine.Spawn(jobID, func(ctx context.Context) { a.Engine.RunStory(ctx, jobID) })

	a.json(w, http.StatusAccepted, jobAcceptedResponse{JobID: jobID, Status: job.Status})
}
