package gateway

import "context"

// Kind selects the generation family for a submission.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// GenerateRequest is the normalized submission payload. Images carry
// base64-encoded reference material (try-on garments, seed frames).
type GenerateRequest struct {
	Kind        Kind
	Prompt      string
	Images      []string
	AspectRatio string
	Locale      string
	RequestID   string
}

// OperationResult is the success payload of a finished operation. Either
// Data holds the asset bytes inline or URI points at a fetchable asset.
type OperationResult struct {
	URI      string
	MIMEType string
	Data     []byte
}

// Operation is the handle for one long-running generation call. Short
// tasks may come back already done with an inline result; long tasks
// return a name to poll.
type Operation struct {
	Name   string
	Done   bool
	Result *OperationResult
	Error  string
}

// PlanRequest asks the gateway to expand a high-level brief into a
// storyboard of scene prompts.
type PlanRequest struct {
	Brief      string
	Locale     string
	SceneCount int
}

// ScenePlan is one structured scene produced by the planning call.
type ScenePlan struct {
	BasePrompt  string `json:"base_prompt"`
	VoiceOver   string `json:"voice_over"`
	OverlayText string `json:"overlay_text,omitempty"`
}

// Gateway is the external generation service consumed by the lifecycle
// engine and the pipelines. Implementations translate these calls into
// vendor API requests; failures surface as *domain.GatewayError for
// upstream rejections and *domain.TransportError for network faults.
type Gateway interface {
	Submit(ctx context.Context, req GenerateRequest) (*Operation, error)
	PollOperation(ctx context.Context, name string) (*Operation, error)
	FetchAsset(ctx context.Context, uri string) ([]byte, error)
	Plan(ctx context.Context, req PlanRequest) ([]ScenePlan, error)
}
