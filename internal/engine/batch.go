package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"genproxy/internal/domain"
	"genproxy/internal/gateway"
)

// CreateBatch persists a batch job with one pending sub-result per prompt,
// preserving prompt order. Like CreateJob it returns before any gateway
// work happens.
func (e *Engine) CreateBatch(ctx context.Context, input domain.JobInput, prompts []string) (*domain.Job, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("%w: at least one prompt is required", domain.ErrValidation)
	}
	for i, p := range prompts {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: prompt %d is empty", domain.ErrValidation, i)
		}
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      domain.JobTypeImageBatch,
		Status:    domain.JobStatusPending,
		Input:     input,
		Prompts:   prompts,
		Results:   seedSubResults(prompts),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	e.logger.Info().Str("job_id", job.ID).Int("prompts", len(prompts)).Msg("engine: batch created")
	return job, nil
}

// RunBatch processes the batch's sub-tasks sequentially in prompt order.
// Each sub-result update is persisted immediately so pollers see live
// incremental progress, and a single sub-task failure never aborts the
// run: the parent ends COMPLETED either way, with per-item outcomes in
// Results. Only an orchestration fault (a failed store write) marks the
// parent FAILED.
func (e *Engine) RunBatch(ctx context.Context, jobID string) {
	job, ok := e.begin(ctx, jobID, domain.JobStatusProcessingImages)
	if !ok {
		return
	}

	for i := range job.Prompts {
		if err := e.runBatchItem(ctx, jobID, i, job.Prompts[i], job.Input); err != nil {
			e.fail(ctx, jobID, fmt.Sprintf("%v: %v", domain.ErrOrchestration, err))
			return
		}
	}

	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = domain.JobStatusCompleted
	}); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: persist batch completion failed")
		return
	}
	e.logger.Info().Str("job_id", jobID).Msg("engine: batch completed")
}

// runBatchItem drives one sub-task. Generation failures are captured into
// the sub-result and return nil; only store failures propagate, because
// they mean progress can no longer be recorded for anyone.
func (e *Engine) runBatchItem(ctx context.Context, jobID string, index int, prompt string, input domain.JobInput) error {
	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		j.Results[index].Status = domain.SubResultGenerating
	}); err != nil {
		return fmt.Errorf("mark item %d generating: %w", index, err)
	}

	src, genErr := e.generateBatchAsset(ctx, jobID, index, prompt, input)

	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		if genErr != nil {
			j.Results[index].Status = domain.SubResultFailed
			j.Results[index].Error = failureMessage(genErr)
			return
		}
		j.Results[index].Status = domain.SubResultComplete
		j.Results[index].Src = src
	}); err != nil {
		return fmt.Errorf("persist item %d outcome: %w", index, err)
	}

	if genErr != nil {
		e.logger.Warn().Err(genErr).Str("job_id", jobID).Int("index", index).Msg("engine: batch item failed")
	}
	return nil
}

func (e *Engine) generateBatchAsset(ctx context.Context, jobID string, index int, prompt string, input domain.JobInput) (string, error) {
	op, err := e.gw.Submit(ctx, gateway.GenerateRequest{
		Kind:        gateway.KindImage,
		Prompt:      prompt,
		AspectRatio: input.AspectRatio,
		Locale:      input.Locale,
		RequestID:   fmt.Sprintf("%s-%d", jobID, index),
	})
	if err != nil {
		return "", err
	}
	result, err := e.settleOperation(ctx, op, e.imgTick)
	if err != nil {
		return "", err
	}
	return e.storeAsset(ctx, jobID, "image", index, result)
}

func seedSubResults(prompts []string) []domain.SubResult {
	results := make([]domain.SubResult, len(prompts))
	for i, p := range prompts {
		results[i] = domain.SubResult{
			ID:     uuid.NewString(),
			Prompt: p,
			Status: domain.SubResultPending,
		}
	}
	return results
}
