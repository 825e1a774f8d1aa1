package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"genproxy/internal/domain"
	"genproxy/internal/gateway"
	"genproxy/internal/infra"
	"genproxy/internal/jobstore"
	"genproxy/internal/poller"
	"genproxy/internal/storage"
)

// Options wires the engine's collaborators.
type Options struct {
	Store   jobstore.Store
	Gateway gateway.Gateway
	Assets  *storage.FileStore
	Poller  *poller.Poller
	Logger  infra.Logger

	// ImagePollInterval and VideoPollInterval control how often pending
	// operations are checked.
	ImagePollInterval time.Duration
	VideoPollInterval time.Duration
	// StaleAfter marks a job failed when it sits in a non-terminal state
	// longer than this without a progress write.
	StaleAfter time.Duration
}

// Engine owns the state machine of generation jobs: it creates them,
// drives single-step and multi-step pipelines and reconciles external
// outcomes into terminal job states. For any given job the engine is the
// sole writer.
type Engine struct {
	store   jobstore.Store
	gw      gateway.Gateway
	assets  *storage.FileStore
	poller  *poller.Poller
	logger  infra.Logger
	imgTick time.Duration
	vidTick time.Duration
	stale   time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an Engine.
func New(opts Options) *Engine {
	imgTick := opts.ImagePollInterval
	if imgTick <= 0 {
		imgTick = 3 * time.Second
	}
	vidTick := opts.VideoPollInterval
	if vidTick <= 0 {
		vidTick = 10 * time.Second
	}
	stale := opts.StaleAfter
	if stale <= 0 {
		stale = 15 * time.Minute
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   opts.Store,
		gw:      opts.Gateway,
		assets:  opts.Assets,
		poller:  opts.Poller,
		logger:  opts.Logger,
		imgTick: imgTick,
		vidTick: vidTick,
		stale:   stale,
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// CreateJob validates the input, persists a PENDING record and returns it
// without touching the gateway. The actual work happens in Advance.
func (e *Engine) CreateJob(ctx context.Context, jobType domain.JobType, input domain.JobInput) (*domain.Job, error) {
	if err := validateInput(jobType, input); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    domain.JobStatusPending,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	e.logger.Info().Str("job_id", job.ID).Str("type", string(jobType)).Msg("engine: job created")
	return job, nil
}

// Advance performs the single external generation attempt for a job. The
// PENDING to PROCESSING transition is persisted before the gateway call so
// a concurrent status read never observes a stale PENDING. Every failure
// path ends in a terminal write; a missing job is logged and ignored, as
// is a job that already reached a terminal state.
func (e *Engine) Advance(ctx context.Context, jobID string) {
	job, ok := e.begin(ctx, jobID, domain.JobStatusProcessing)
	if !ok {
		return
	}

	op, err := e.gw.Submit(ctx, gateway.GenerateRequest{
		Kind:        gateway.KindImage,
		Prompt:      job.Input.Prompt,
		Images:      job.Input.Images,
		AspectRatio: job.Input.AspectRatio,
		Locale:      job.Input.Locale,
		RequestID:   job.ID,
	})
	if err != nil {
		e.fail(ctx, jobID, failureMessage(err))
		return
	}

	result, err := e.settleOperation(ctx, op, e.imgTick)
	if err != nil {
		e.fail(ctx, jobID, failureMessage(err))
		return
	}

	key, err := e.storeAsset(ctx, job.ID, "image", 0, result)
	if err != nil {
		e.fail(ctx, jobID, failureMessage(err))
		return
	}
	e.complete(ctx, jobID, key)
}

// GetStatus is a pure read, except that a job stuck in a non-terminal
// state past the staleness window is transitioned to FAILED here: its
// writer is gone, nobody else will ever perform the terminal write.
func (e *Engine) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if e.stale > 0 && time.Since(job.UpdatedAt) > e.stale {
		e.logger.Warn().Str("job_id", jobID).Str("status", string(job.Status)).Msg("engine: job stale, marking failed")
		return e.store.Update(ctx, jobID, func(j *domain.Job) {
			if j.Status.Terminal() {
				return
			}
			j.Status = domain.JobStatusFailed
			j.Error = "processing timed out"
		})
	}
	return job, nil
}

// Spawn runs fn as a fire-and-forget continuation detached from the
// request context. The continuation runs under the engine's root context
// so Shutdown can unblock an in-flight poll wait. A panic is routed into
// the job's terminal write so an orchestration fault cannot strand the
// record in a non-terminal state.
func (e *Engine) Spawn(jobID string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := e.baseCtx
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Str("job_id", jobID).Interface("panic", r).Msg("engine: job panicked")
				e.fail(ctx, jobID, fmt.Sprintf("internal fault: %v", r))
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until all spawned continuations returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels the root context and waits for all spawned
// continuations to return. Jobs interrupted mid-poll keep their working
// status and converge to FAILED through the staleness window.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

// begin loads the job and persists the transition into the given working
// status. It returns false when there is nothing to do: unknown id (the
// store may have evicted it, or the id was fabricated) or an already
// terminal job, which makes a duplicate invocation a harmless no-op.
func (e *Engine) begin(ctx context.Context, jobID string, working domain.JobStatus) (*domain.Job, bool) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn().Str("job_id", jobID).Msg("engine: job missing, skipping")
		} else {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: load job failed")
		}
		return nil, false
	}
	if job.Status.Terminal() {
		e.logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("engine: job already terminal, skipping")
		return nil, false
	}

	job, err = e.store.Update(ctx, jobID, func(j *domain.Job) {
		j.Status = working
	})
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: persist working status failed")
		return nil, false
	}
	return job, true
}

// settleOperation resolves an operation handle into its success payload,
// polling it to completion when it is not already done.
func (e *Engine) settleOperation(ctx context.Context, op *gateway.Operation, interval time.Duration) (gateway.OperationResult, error) {
	if op == nil {
		return gateway.OperationResult{}, errors.New("gateway returned no operation")
	}
	if op.Done {
		return settledResult(op)
	}

	type outcome struct {
		result gateway.OperationResult
		err    error
	}
	ch := make(chan outcome, 1)
	started := e.poller.Start(ctx, op.Name, interval,
		func(ctx context.Context) (*gateway.Operation, error) {
			return e.gw.PollOperation(ctx, op.Name)
		},
		func(result gateway.OperationResult) { ch <- outcome{result: result} },
		func(err error) { ch <- outcome{err: err} },
	)
	if !started {
		return gateway.OperationResult{}, fmt.Errorf("operation %s is already being polled", op.Name)
	}

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		e.poller.Cancel(op.Name)
		return gateway.OperationResult{}, ctx.Err()
	}
}

func settledResult(op *gateway.Operation) (gateway.OperationResult, error) {
	if op.Error != "" {
		return gateway.OperationResult{}, errors.New(op.Error)
	}
	if op.Result == nil {
		return gateway.OperationResult{}, errors.New("operation finished without a result payload")
	}
	return *op.Result, nil
}

// storeAsset persists result bytes (fetching them first when only a URI
// came back) and returns the storage key.
func (e *Engine) storeAsset(ctx context.Context, jobID, kind string, index int, result gateway.OperationResult) (string, error) {
	data := result.Data
	if len(data) == 0 && result.URI != "" {
		fetched, err := e.gw.FetchAsset(ctx, result.URI)
		if err != nil {
			return "", err
		}
		data = fetched
	}
	if len(data) == 0 {
		return "", errors.New("result carried no asset bytes")
	}
	key := assetKey(jobID, kind, index, result.MIMEType)
	return e.assets.Write(ctx, key, data)
}

func (e *Engine) complete(ctx context.Context, jobID, result string) {
	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = domain.JobStatusCompleted
		j.Result = result
		j.Error = ""
	}); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: persist completion failed")
		return
	}
	e.logger.Info().Str("job_id", jobID).Msg("engine: job completed")
}

func (e *Engine) fail(ctx context.Context, jobID, message string) {
	if ctx.Err() != nil {
		// Shutdown interrupted the job; the staleness window performs
		// the terminal write instead.
		e.logger.Warn().Str("job_id", jobID).Msg("engine: job interrupted, deferring terminal write")
		return
	}
	if message == "" {
		message = "generation failed"
	}
	if _, err := e.store.Update(ctx, jobID, func(j *domain.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = domain.JobStatusFailed
		j.Error = message
		j.Result = ""
	}); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: persist failure failed")
		}
		return
	}
	e.logger.Warn().Str("job_id", jobID).Str("reason", message).Msg("engine: job failed")
}

func validateInput(jobType domain.JobType, input domain.JobInput) error {
	switch jobType {
	case domain.JobTypeTryOn:
		if len(input.Images) == 0 {
			return fmt.Errorf("%w: tryon requires at least one reference image", domain.ErrValidation)
		}
	default:
		if strings.TrimSpace(input.Prompt) == "" {
			return fmt.Errorf("%w: prompt is required", domain.ErrValidation)
		}
	}
	return nil
}

// failureMessage derives a non-empty human-readable reason, preferring the
// upstream-provided message when one exists.
func failureMessage(err error) string {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return "generation failed"
	}
	return err.Error()
}

func assetKey(jobID, kind string, index int, mime string) string {
	ext := extensionForMIME(mime)
	if kind == "video" {
		return fmt.Sprintf("generated/videos/%s/scene-%02d%s", jobID, index+1, ext)
	}
	return fmt.Sprintf("generated/images/%s/%s-%02d%s", jobID, kind, index+1, ext)
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
