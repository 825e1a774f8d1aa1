package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"genproxy/internal/domain"
	"genproxy/internal/gateway"
	"genproxy/internal/jobstore"
)

func scriptedVideoGateway(failPrompt string) *fakeGateway {
	gw := &fakeGateway{}
	gw.planFn = func(req gateway.PlanRequest) ([]gateway.ScenePlan, error) {
		return []gateway.ScenePlan{
			{BasePrompt: "opening shot", VoiceOver: "welcome"},
			{BasePrompt: "detail shot", VoiceOver: "look closer", OverlayText: "NEW"},
		}, nil
	}
	gw.submitFn = func(req gateway.GenerateRequest) (*gateway.Operation, error) {
		if failPrompt != "" && req.Prompt == failPrompt {
			return nil, &domain.GatewayError{StatusCode: 500, Message: "render farm unavailable"}
		}
		return &gateway.Operation{Name: "operations/" + req.RequestID, Done: false}, nil
	}
	gw.pollFn = func(name string) (*gateway.Operation, error) {
		return &gateway.Operation{
			Name:   name,
			Done:   true,
			Result: &gateway.OperationResult{URI: "https://cdn.example.com/" + name + ".mp4", MIMEType: "video/mp4"},
		}, nil
	}
	gw.fetchFn = func(uri string) ([]byte, error) {
		return []byte("mp4:" + uri), nil
	}
	return gw
}

func TestRunStoryCompletesAndPackagesScenes(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := scriptedVideoGateway("")
	e := newTestEngine(t, store, gw)

	job, err := e.CreateStory(context.Background(), domain.JobInput{Prompt: "product promo"})
	if err != nil {
		t.Fatalf("CreateStory returned error: %v", err)
	}
	e.RunStory(context.Background(), job.ID)

	final := waitForStatus(t, store, job.ID, domain.JobStatusCompleted)
	if len(final.Scenes) != 2 {
		t.Fatalf("scene count = %d, want 2", len(final.Scenes))
	}
	for i, sc := range final.Scenes {
		if sc.Status != domain.SceneComplete {
			t.Fatalf("scenes[%d].Status = %s, want complete", i, sc.Status)
		}
		if sc.Src == "" || sc.OperationName == "" {
			t.Fatalf("scenes[%d] missing src/operation: %+v", i, sc)
		}
	}
	if !strings.HasSuffix(final.Result, "scenes.zip") {
		t.Fatalf("result = %q, want zip package key", final.Result)
	}

	blob, err := e.assets.Read(context.Background(), final.Result)
	if err != nil {
		t.Fatalf("reading package: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatalf("opening package: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("package holds %d files, want 2", len(zr.File))
	}
}

func TestRunStoryPlanningFailureAbortsBeforeScenes(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := scriptedVideoGateway("")
	gw.planFn = func(req gateway.PlanRequest) ([]gateway.ScenePlan, error) {
		return nil, &domain.GatewayError{StatusCode: 503, Message: "planner overloaded"}
	}
	e := newTestEngine(t, store, gw)

	job, err := e.CreateStory(context.Background(), domain.JobInput{Prompt: "product promo"})
	if err != nil {
		t.Fatalf("CreateStory returned error: %v", err)
	}
	e.RunStory(context.Background(), job.ID)

	final := waitForStatus(t, store, job.ID, domain.JobStatusFailed)
	if len(final.Scenes) != 0 {
		t.Fatalf("scenes were seeded despite planning failure: %+v", final.Scenes)
	}
	if !strings.Contains(final.Error, "planner overloaded") {
		t.Fatalf("error = %q, want planner reason", final.Error)
	}
	if gw.submitCount() != 0 {
		t.Fatal("scene generation started despite planning failure")
	}
}

func TestRunStorySceneFailureIsIsolated(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := scriptedVideoGateway("opening shot")
	e := newTestEngine(t, store, gw)

	job, err := e.CreateStory(context.Background(), domain.JobInput{Prompt: "product promo"})
	if err != nil {
		t.Fatalf("CreateStory returned error: %v", err)
	}
	e.RunStory(context.Background(), job.ID)

	final := waitForStatus(t, store, job.ID, domain.JobStatusCompleted)
	if final.Scenes[0].Status != domain.SceneFailed {
		t.Fatalf("scenes[0].Status = %s, want failed", final.Scenes[0].Status)
	}
	if !strings.Contains(final.Scenes[0].Error, "render farm unavailable") {
		t.Fatalf("scenes[0].Error = %q", final.Scenes[0].Error)
	}
	if final.Scenes[1].Status != domain.SceneComplete {
		t.Fatalf("scenes[1].Status = %s, want complete", final.Scenes[1].Status)
	}
}

func TestRunStoryFirstSceneCarriesSeedImage(t *testing.T) {
	store := jobstore.NewMemoryStore(24 * time.Hour)
	gw := scriptedVideoGateway("")
	e := newTestEngine(t, store, gw)

	job, err := e.CreateStory(context.Background(), domain.JobInput{
		Prompt: "product promo",
		Images: []string{"c2VlZA=="},
	})
	if err != nil {
		t.Fatalf("CreateStory returned error: %v", err)
	}
	e.RunStory(context.Background(), job.ID)
	waitForStatus(t, store, job.ID, domain.JobStatusCompleted)

	reqs := gw.submittedRequests()
	if len(reqs) != 2 {
		t.Fatalf("submit count = %d, want 2", len(reqs))
	}
	if len(reqs[0].Images) != 1 || reqs[0].Images[0] != "c2VlZA==" {
		t.Fatalf("first scene missing seed image: %+v", reqs[0].Images)
	}
	if len(reqs[1].Images) != 0 {
		t.Fatalf("later scene carries seed image: %+v", reqs[1].Images)
	}
}
