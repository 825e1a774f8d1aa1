package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genproxy/internal/domain"
	"genproxy/internal/gateway"
	"genproxy/internal/jobstore"
	"genproxy/internal/poller"
	"genproxy/internal/storage"
)

// fakeGateway lets each test script gateway behavior per call.
type fakeGateway struct {
	mu       sync.Mutex
	submits  []gateway.GenerateRequest
	polls    int
	submitFn func(req gateway.GenerateRequest) (*gateway.Operation, error)
	pollFn   func(name string) (*gateway.Operation, error)
	fetchFn  func(uri string) ([]byte, error)
	planFn   func(req gateway.PlanRequest) ([]gateway.ScenePlan, error)
}

func (f *fakeGateway) Submit(ctx context.Context, req gateway.GenerateRequest) (*gateway.Operation, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return &gateway.Operation{
			Name:   "inline/" + req.RequestID,
			Done:   true,
			Result: &gateway.OperationResult{MIMEType: "image/png", Data: []byte("png:" + req.Prompt)},
		}, nil
	}
	return fn(req)
}

func (f *fakeGateway) PollOperation(ctx context.Context, name string) (*gateway.Operation, error) {
	f.mu.Lock()
	f.polls++
	fn := f.pollFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("poll not scripted")
	}
	return fn(name)
}

func (f *fakeGateway) FetchAsset(ctx context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	fn := f.fetchFn
	f.mu.Unlock()
	if fn == nil {
		return []byte("asset:" + uri), nil
	}
	return fn(uri)
}

func (f *fakeGateway) Plan(ctx context.Context, req gateway.PlanRequest) ([]gateway.ScenePlan, error) {
	f.mu.Lock()
	fn := f.planFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("plan not scripted")
	}
	return fn(req)
}

func (f *fakeGateway) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeGateway) submittedRequests() []gateway.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.GenerateRequest, len(f.submits))
	copy(out, f.submits)
	return out
}

func newTestEngine(t *testing.T, store jobstore.Store, gw gateway.Gateway) *Engine {
	t.Helper()
	assets, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	logger := zerolog.New(io.Discard)
	return New(Options{
		Store:             store,
		Gateway:           gw,
		Assets:            assets,
		Poller:            poller.New(logger),
		Logger:            logger,
		ImagePollInterval: 2 * time.Millisecond,
		VideoPollInterval: 2 * time.Millisecond,
		StaleAfter:        15 * time.Minute,
	})
}

func waitForStatus(t *testing.T, store jobstore.Store, jobID string, want domain.JobStatus) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	job, _ := store.Get(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last seen: %+v", jobID, want, job)
	return nil
}

func TestCreateJobReturnsPendingWithoutGatewayCall(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := &fakeGateway{}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	if job.ID == "" {
		t.Fatal("job id not assigned")
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want PENDING", job.Status)
	}
	if job.Result != "" || job.Error != "" {
		t.Fatalf("non-terminal job carries result/error: %+v", job)
	}
	if gw.submitCount() != 0 {
		t.Fatalf("gateway called %d times at submission", gw.submitCount())
	}
}

func TestCreateJobValidation(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	e := newTestEngine(t, store, &fakeGateway{})

	tests := []struct {
		name    string
		jobType domain.JobType
		input   domain.JobInput
	}{
		{name: "empty prompt", jobType: domain.JobTypeImageGenerate, input: domain.JobInput{Prompt: "  "}},
		{name: "tryon without images", jobType: domain.JobTypeTryOn, input: domain.JobInput{Prompt: "fit check"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.CreateJob(context.Background(), tc.jobType, tc.input); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAdvanceTransitionsThroughProcessingToCompleted(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	release := make(chan struct{})
	gw := &fakeGateway{
		submitFn: func(req gateway.GenerateRequest) (*gateway.Operation, error) {
			<-release
			return &gateway.Operation{
				Name:   "inline/" + req.RequestID,
				Done:   true,
				Result: &gateway.OperationResult{MIMEType: "image/png", Data: []byte("png-bytes")},
			}, nil
		},
	}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}

	e.Spawn(job.ID, func(ctx context.Context) { e.Advance(ctx, job.ID) })

	// The working-status write lands before the external call returns.
	mid := waitForStatus(t, store, job.ID, domain.JobStatusProcessing)
	if mid.Result != "" || mid.Error != "" {
		t.Fatalf("in-flight job carries result/error: %+v", mid)
	}

	close(release)
	done := waitForStatus(t, store, job.ID, domain.JobStatusCompleted)
	if done.Result == "" {
		t.Fatal("completed job has no result")
	}
	if done.Error != "" {
		t.Fatalf("completed job carries error %q", done.Error)
	}
	e.Wait()
}

func TestAdvanceFailureSurfacesUpstreamReason(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := &fakeGateway{
		submitFn: func(req gateway.GenerateRequest) (*gateway.Operation, error) {
			return nil, &domain.GatewayError{StatusCode: http.StatusTooManyRequests, Message: "quota exhausted"}
		},
	}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	e.Advance(context.Background(), job.ID)

	failed := waitForStatus(t, store, job.ID, domain.JobStatusFailed)
	if failed.Error != "quota exhausted" {
		t.Fatalf("error = %q, want upstream reason", failed.Error)
	}
	if failed.Result != "" {
		t.Fatalf("failed job carries result %q", failed.Result)
	}
}

func TestAdvanceMissingJobIsNoOp(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := &fakeGateway{}
	e := newTestEngine(t, store, gw)

	e.Advance(context.Background(), "nonexistent-id")

	if gw.submitCount() != 0 {
		t.Fatalf("gateway called for a missing job")
	}
}

func TestAdvanceIsIdempotentOnTerminalJob(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := &fakeGateway{}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	e.Advance(context.Background(), job.ID)
	before := waitForStatus(t, store, job.ID, domain.JobStatusCompleted)
	calls := gw.submitCount()

	e.Advance(context.Background(), job.ID)

	after, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("terminal record changed by second advance:\nbefore: %+v\nafter:  %+v", before, after)
	}
	if gw.submitCount() != calls {
		t.Fatal("second advance re-executed the external call")
	}
}

func TestAdvancePollsPendingOperation(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := &fakeGateway{
		submitFn: func(req gateway.GenerateRequest) (*gateway.Operation, error) {
			return &gateway.Operation{Name: "operations/img-1", Done: false}, nil
		},
		fetchFn: func(uri string) ([]byte, error) {
			return []byte("fetched-bytes"), nil
		},
	}
	var polls int
	gw.pollFn = func(name string) (*gateway.Operation, error) {
		polls++
		if polls < 2 {
			return &gateway.Operation{Name: name, Done: false}, nil
		}
		return &gateway.Operation{
			Name:   name,
			Done:   true,
			Result: &gateway.OperationResult{URI: "https://cdn.example.com/a.png", MIMEType: "image/png"},
		}, nil
	}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	e.Advance(context.Background(), job.ID)

	done := waitForStatus(t, store, job.ID, domain.JobStatusCompleted)
	if done.Result == "" {
		t.Fatal("completed job has no result")
	}
}

func TestGetStatusNotFound(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	e := newTestEngine(t, store, &fakeGateway{})

	if _, err := e.GetStatus(context.Background(), "nonexistent-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestGetStatusMarksStaleProcessingJobFailed(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := jobstore.NewMemoryStore(24 * time.Hour).WithClock(func() time.Time { return past })
	e := newTestEngine(t, store, &fakeGateway{})

	job := &domain.Job{
		ID:        "stuck-job",
		Type:      domain.JobTypeImageGenerate,
		Status:    domain.JobStatusProcessing,
		CreatedAt: past,
	}
	if err := store.Set(context.Background(), job); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, err := e.GetStatus(context.Background(), "stuck-job")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.Error == "" {
		t.Fatal("stale-failed job has no error message")
	}
}

func TestSpawnRoutesPanicIntoTerminalWrite(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	e := newTestEngine(t, store, &fakeGateway{})

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}

	e.Spawn(job.ID, func(ctx context.Context) {
		panic(fmt.Sprintf("boom for %s", job.ID))
	})
	e.Wait()

	failed := waitForStatus(t, store, job.ID, domain.JobStatusFailed)
	if failed.Error == "" {
		t.Fatal("panicked job has no error message")
	}
}

func TestShutdownUnblocksInFlightPoll(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := &fakeGateway{
		submitFn: func(req gateway.GenerateRequest) (*gateway.Operation, error) {
			return &gateway.Operation{Name: "operations/stuck", Done: false}, nil
		},
		pollFn: func(name string) (*gateway.Operation, error) {
			return &gateway.Operation{Name: name, Done: false}, nil
		},
	}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateJob(context.Background(), domain.JobTypeImageGenerate, domain.JobInput{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	e.Spawn(job.ID, func(ctx context.Context) { e.Advance(ctx, job.ID) })
	waitForStatus(t, store, job.ID, domain.JobStatusProcessing)

	done := make(chan struct{})
	go func() {
		e.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return while a poll was in flight")
	}

	interrupted, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if interrupted.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING left for the staleness window", interrupted.Status)
	}
}
