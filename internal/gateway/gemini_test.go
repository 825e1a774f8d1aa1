package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"genproxy/internal/domain"
	"genproxy/internal/token"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGemini(Options{
		BaseURL:    srv.URL,
		ImageModel: "image-model",
		VideoModel: "video-model",
		Tokens:     token.Static("test-key"),
	})
	if err != nil {
		t.Fatalf("NewGemini returned error: %v", err)
	}
	return g
}

func TestSubmitImageReturnsDoneOperation(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/image-model:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"` + data + `"}}]}}]}`))
	})

	op, err := g.Submit(context.Background(), GenerateRequest{Kind: KindImage, Prompt: "a cat", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !op.Done {
		t.Fatal("image operation should be done immediately")
	}
	if op.Result == nil || string(op.Result.Data) != "png-bytes" {
		t.Fatalf("result payload mismatch: %+v", op.Result)
	}
	if op.Result.MIMEType != "image/png" {
		t.Fatalf("mime type = %q", op.Result.MIMEType)
	}
}

func TestSubmitSurfacesUpstreamError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota exhausted"}}`))
	})

	_, err := g.Submit(context.Background(), GenerateRequest{Kind: KindImage, Prompt: "a cat"})
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error type = %T, want *domain.GatewayError", err)
	}
	if gwErr.Message != "quota exhausted" {
		t.Fatalf("message = %q, want upstream reason", gwErr.Message)
	}
	if gwErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", gwErr.StatusCode)
	}
}

func TestSubmitVideoReturnsHandle(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/video-model:predictLongRunning" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"name":"operations/abc123","done":false}`))
	})

	op, err := g.Submit(context.Background(), GenerateRequest{Kind: KindVideo, Prompt: "sunrise"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if op.Done {
		t.Fatal("video operation should not be done at submit")
	}
	if op.Name != "operations/abc123" {
		t.Fatalf("operation name = %q", op.Name)
	}
}

func TestPollOperationParsesVideoResult(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/operations/abc123" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"name":"operations/abc123","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://cdn.example.com/v.mp4"}}]}}}`))
	})

	op, err := g.PollOperation(context.Background(), "operations/abc123")
	if err != nil {
		t.Fatalf("PollOperation returned error: %v", err)
	}
	if !op.Done || op.Result == nil {
		t.Fatalf("operation not settled: %+v", op)
	}
	if op.Result.URI != "https://cdn.example.com/v.mp4" {
		t.Fatalf("uri = %q", op.Result.URI)
	}
	if op.Result.MIMEType != "video/mp4" {
		t.Fatalf("mime = %q", op.Result.MIMEType)
	}
}

func TestPollOperationCarriesUpstreamFailure(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"operations/abc123","done":true,"error":{"code":3,"message":"safety block"}}`))
	})

	op, err := g.PollOperation(context.Background(), "operations/abc123")
	if err != nil {
		t.Fatalf("PollOperation returned error: %v", err)
	}
	if !op.Done || op.Error != "safety block" {
		t.Fatalf("operation = %+v, want done with error", op)
	}
}

func TestPlanDecodesStoryboard(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[{\"base_prompt\":\"opening shot\",\"voice_over\":\"welcome\"},{\"base_prompt\":\"detail shot\",\"voice_over\":\"look closer\"}]"}]}}]}`))
	})

	scenes, err := g.Plan(context.Background(), PlanRequest{Brief: "product promo", SceneCount: 2})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("scene count = %d, want 2", len(scenes))
	}
	if scenes[0].BasePrompt != "opening shot" || scenes[1].VoiceOver != "look closer" {
		t.Fatalf("scenes decoded incorrectly: %+v", scenes)
	}
}

func TestPlanRejectsEmptyStoryboard(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[]"}]}}]}`))
	})

	_, err := g.Plan(context.Background(), PlanRequest{Brief: "promo"})
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error type = %T, want *domain.GatewayError", err)
	}
}
