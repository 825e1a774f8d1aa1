package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genproxy/internal/domain"
	"genproxy/internal/gateway"
	"genproxy/pkg/zip"
)

// CreateStory persists a video story job. Scene planning happens in
// RunStory, not here, so submission stays fast.
func (e *Engine) CreateStory(ctx context.Context, input domain.JobInput) (*domain.Job, error) {
	if err := validateInput(domain.JobTypeVideoStory, input); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      domain.JobTypeVideoStory,
		Status:    domain.JobStatusPending,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	e.logger.Info().Str("job_id", job.ID).Msg("engine: story created")
	return job, nil
}

// RunStory drives the multi-scene video pipeline: one planning call
// expands the brief into scenes, then each scene goes through submit,
// poll-to-completion and asset fetch. Planning failure aborts the whole
// job before any scene starts; a single scene failure is isolated. The
// aggregate state is re-checked after every scene update and, once all
// scenes settled, the completed scene assets are packaged into a zip
// archive that becomes the job result.
func (e *Engine) RunStory(ctx context.Context, jobID string) {
	job, ok := e.begin(ctx, jobID, domain.JobStatusProcessing)
	if !ok {
		return
	}

	plans, err := e.gw.Plan(ctx, gateway.PlanRequest{
		Brief:      job.Input.Prompt,
		Locale:     job.Input.Locale,
		SceneCount: 5,
	})
	if err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("%v: storyboard planning: %v", domain.ErrOrchestration, failureMessage(err)))
		return
	}
	if len(plans) == 0 {
		e.fail(ctx, jobID, fmt.Sprintf("%v: storyboard planning returned no scenes", domain.ErrOrchestration))
		return
	}

	scenes := make([]domain.VideoScene, len(plans))
	for i, plan := range plans {
		scenes[i] = domain.VideoScene{
			ID:          uuid.NewString(),
			BasePrompt:  plan.BasePrompt,
			VoiceOver:   plan.VoiceOver,
			OverlayText: plan.OverlayText,
			Status:      domain.ScenePending,
		}
	}
	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		j.Scenes = scenes
	}); err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("%v: persist storyboard: %v", domain.ErrOrchestration, err))
		return
	}

	archive := make([]zip.Asset, 0, len(scenes))
	for i := range scenes {
		asset, ok := e.runScene(ctx, jobID, i, job.Input)
		if ok {
			archive = append(archive, asset)
		}

		settled, err := e.sceneSettled(ctx, jobID)
		if err != nil {
			e.fail(ctx, jobID, fmt.Sprintf("%v: %v", domain.ErrOrchestration, err))
			return
		}
		if !settled {
			continue
		}
		e.packageStory(ctx, jobID, archive)
		return
	}
}

// runScene produces one scene. The first scene carries the user-supplied
// seed image for visual continuity; later scenes do not. The returned
// asset feeds the final archive when the scene completed.
func (e *Engine) runScene(ctx context.Context, jobID string, index int, input domain.JobInput) (zip.Asset, bool) {
	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		j.Scenes[index].Status = domain.SceneGenerating
	}); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Int("scene", index).Msg("engine: mark scene generating failed")
		return zip.Asset{}, false
	}

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: reload story failed")
		return zip.Asset{}, false
	}
	scene := job.Scenes[index]

	var seed []string
	if index == 0 {
		seed = input.Images
	}
	op, err := e.gw.Submit(ctx, gateway.GenerateRequest{
		Kind:        gateway.KindVideo,
		Prompt:      scene.BasePrompt,
		Images:      seed,
		AspectRatio: input.AspectRatio,
		Locale:      input.Locale,
		RequestID:   fmt.Sprintf("%s-scene-%d", jobID, index),
	})
	if err != nil {
		e.failScene(ctx, jobID, index, failureMessage(err))
		return zip.Asset{}, false
	}

	if op.Name != "" {
		if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
			j.Scenes[index].OperationName = op.Name
		}); err != nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Int("scene", index).Msg("engine: record operation name failed")
		}
	}

	result, err := e.settleOperation(ctx, op, e.vidTick)
	if err != nil {
		e.failScene(ctx, jobID, index, failureMessage(err))
		return zip.Asset{}, false
	}

	data := result.Data
	if len(data) == 0 && result.URI != "" {
		data, err = e.gw.FetchAsset(ctx, result.URI)
		if err != nil {
			e.failScene(ctx, jobID, index, failureMessage(err))
			return zip.Asset{}, false
		}
	}
	if len(data) == 0 {
		e.failScene(ctx, jobID, index, "scene finished without asset bytes")
		return zip.Asset{}, false
	}

	key := assetKey(jobID, "video", index, result.MIMEType)
	key, err = e.assets.Write(ctx, key, data)
	if err != nil {
		e.failScene(ctx, jobID, index, failureMessage(err))
		return zip.Asset{}, false
	}

	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		j.Scenes[index].Status = domain.SceneComplete
		j.Scenes[index].Src = key
	}); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Int("scene", index).Msg("engine: persist scene completion failed")
		return zip.Asset{}, false
	}

	return zip.Asset{
		Filename: fmt.Sprintf("scene-%02d%s", index+1, extensionForMIME(result.MIMEType)),
		MIME:     result.MIMEType,
		Data:     data,
	}, true
}

func (e *Engine) failScene(ctx context.Context, jobID string, index int, message string) {
	if ctx.Err() != nil {
		e.logger.Warn().Str("job_id", jobID).Int("scene", index).Msg("engine: scene interrupted, deferring terminal write")
		return
	}
	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		j.Scenes[index].Status = domain.SceneFailed
		j.Scenes[index].Error = message
	}); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Int("scene", index).Msg("engine: persist scene failure failed")
		return
	}
	e.logger.Warn().Str("job_id", jobID).Int("scene", index).Str("reason", message).Msg("engine: scene failed")
}

func (e *Engine) sceneSettled(ctx context.Context, jobID string) (bool, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.ScenesSettled(), nil
}

// packageStory zips the completed scene assets and finishes the job. The
// parent completes even when some scenes failed; callers inspect the
// per-scene statuses for partial outcomes.
func (e *Engine) packageStory(ctx context.Context, jobID string, assets []zip.Asset) {
	blob := zip.ArchiveAssets(assets)
	key := fmt.Sprintf("generated/videos/%s/scenes.zip", jobID)
	key, err := e.assets.Write(ctx, key, blob)
	if err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("%v: package scenes: %v", domain.ErrOrchestration, err))
		return
	}
	e.complete(ctx, jobID, key)
}
