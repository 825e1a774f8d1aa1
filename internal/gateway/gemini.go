package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
	"genproxy/internal/token"
)

// Options controls how the Gemini gateway is configured.
type Options struct {
	BaseURL    string
	ImageModel string
	VideoModel string
	Tokens     token.Provider
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Gemini talks to a Gemini-style generation API. Image generation is a
// synchronous generateContent call returned as an already-done operation;
// video generation goes through predictLongRunning and is polled by name.
type Gemini struct {
	baseURL    string
	imageModel string
	videoModel string
	tokens     token.Provider
	httpClient *http.Client
	logger     *infra.Logger
}

// NewGemini constructs a Gemini gateway with sane defaults. Callers may
// provide a nil HTTP client; one with a sensible timeout is created.
func NewGemini(opts Options) (*Gemini, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("gateway: token provider is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-3.0-generate-001"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Gemini{
		baseURL:    baseURL,
		imageModel: imageModel,
		videoModel: videoModel,
		tokens:     opts.Tokens,
		httpClient: client,
		logger:     logger,
	}, nil
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

type geminiPredictRequest struct {
	Instances  []geminiPredictInstance `json:"instances"`
	Parameters *geminiPredictParams    `json:"parameters,omitempty"`
}

type geminiPredictInstance struct {
	Prompt string            `json:"prompt"`
	Image  *geminiInlineData `json:"image,omitempty"`
}

type geminiPredictParams struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiOperation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *geminiOpError  `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type geminiOpError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type geminiVideoResponse struct {
	GenerateVideoResponse struct {
		GeneratedSamples []struct {
			Video struct {
				URI      string `json:"uri"`
				MimeType string `json:"mimeType,omitempty"`
			} `json:"video"`
		} `json:"generatedSamples"`
	} `json:"generateVideoResponse"`
}

// Submit issues one generation call. Image requests complete inline and
// come back as a done operation; video requests return a pollable handle.
func (g *Gemini) Submit(ctx context.Context, req GenerateRequest) (*Operation, error) {
	switch req.Kind {
	case KindVideo:
		return g.submitVideo(ctx, req)
	default:
		return g.submitImage(ctx, req)
	}
}

func (g *Gemini) submitImage(ctx context.Context, req GenerateRequest) (*Operation, error) {
	parts := []geminiPart{{Text: buildPrompt(req)}}
	for _, img := range req.Images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/png",
			Data:     img,
		}})
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.imageModel))
	if err := g.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gateway: decode inline data: %w", err)
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			g.logger.Debug().
				Str("request_id", req.RequestID).
				Str("model", g.imageModel).
				Msg("gateway: image generated inline")
			return &Operation{
				Name:   "inline/" + req.RequestID,
				Done:   true,
				Result: &OperationResult{MIMEType: mime, Data: data},
			}, nil
		}
	}

	// A 200 with no image part still finishes the operation; the caller
	// decides how to surface the missing payload.
	return &Operation{Name: "inline/" + req.RequestID, Done: true}, nil
}

func (g *Gemini) submitVideo(ctx context.Context, req GenerateRequest) (*Operation, error) {
	instance := geminiPredictInstance{Prompt: buildPrompt(req)}
	if len(req.Images) > 0 {
		instance.Image = &geminiInlineData{MimeType: "image/png", Data: req.Images[0]}
	}
	payload := geminiPredictRequest{
		Instances: []geminiPredictInstance{instance},
	}
	if req.AspectRatio != "" {
		payload.Parameters = &geminiPredictParams{AspectRatio: req.AspectRatio}
	}

	var op geminiOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(g.videoModel))
	if err := g.invoke(ctx, http.MethodPost, path, payload, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, &domain.GatewayError{StatusCode: http.StatusOK, Message: "operation name missing in response"}
	}

	g.logger.Debug().
		Str("request_id", req.RequestID).
		Str("operation", op.Name).
		Msg("gateway: video operation started")

	return g.toOperation(op), nil
}

// PollOperation refreshes a long-running operation handle.
func (g *Gemini) PollOperation(ctx context.Context, name string) (*Operation, error) {
	var op geminiOperation
	if err := g.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(name, "/"), nil, &op); err != nil {
		return nil, err
	}
	return g.toOperation(op), nil
}

func (g *Gemini) toOperation(op geminiOperation) *Operation {
	out := &Operation{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		out.Error = op.Error.Message
		if out.Error == "" {
			out.Error = fmt.Sprintf("operation failed with code %d", op.Error.Code)
		}
		return out
	}
	if !op.Done || len(op.Response) == 0 {
		return out
	}
	var video geminiVideoResponse
	if err := json.Unmarshal(op.Response, &video); err != nil {
		return out
	}
	samples := video.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return out
	}
	mime := samples[0].Video.MimeType
	if mime == "" {
		mime = "video/mp4"
	}
	out.Result = &OperationResult{URI: samples[0].Video.URI, MIMEType: mime}
	return out
}

// FetchAsset downloads the bytes behind a result URI.
func (g *Gemini) FetchAsset(ctx context.Context, uri string) ([]byte, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = g.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: create download request: %w", err)
	}
	if err := g.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: "fetch asset", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, &domain.GatewayError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: "read asset", Err: err}
	}
	return blob, nil
}

// Plan expands a brief into a storyboard using a JSON-mode completion.
func (g *Gemini) Plan(ctx context.Context, req PlanRequest) ([]ScenePlan, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildPlanPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseMimeType: "application/json"},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.imageModel))
	if err := g.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text == "" {
				continue
			}
			var scenes []ScenePlan
			if err := json.Unmarshal([]byte(part.Text), &scenes); err != nil {
				return nil, fmt.Errorf("gateway: decode storyboard: %w", err)
			}
			if len(scenes) == 0 {
				return nil, &domain.GatewayError{StatusCode: http.StatusOK, Message: "storyboard came back empty"}
			}
			return scenes, nil
		}
	}
	return nil, &domain.GatewayError{StatusCode: http.StatusOK, Message: "no storyboard content returned"}
}

func (g *Gemini) invoke(ctx context.Context, method, path string, payload, out any) error {
	endpoint := g.baseURL + path
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("gateway: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := g.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return &domain.GatewayError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return &domain.GatewayError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// authorize fetches a credential right before the call; tokens are never
// cached here beyond what the provider returns.
func (g *Gemini) authorize(ctx context.Context, req *http.Request) error {
	tok, err := g.tokens.GetToken(ctx)
	if err != nil {
		return &domain.TransportError{Op: "get token", Err: err}
	}
	if tok.Value != "" {
		req.Header.Set("x-goog-api-key", tok.Value)
	}
	return nil
}

func buildPrompt(req GenerateRequest) string {
	var b strings.Builder
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		b.WriteString(prompt)
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Aspect ratio: ")
		b.WriteString(aspect)
	}
	if locale := strings.TrimSpace(req.Locale); locale != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Locale: ")
		b.WriteString(locale)
	}
	return b.String()
}

func buildPlanPrompt(req PlanRequest) string {
	count := req.SceneCount
	if count <= 0 {
		count = 5
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Expand the following brief into a storyboard of exactly %d scenes.\n", count)
	b.WriteString("Respond with a JSON array of objects with keys base_prompt, voice_over, overlay_text.\n")
	if locale := strings.TrimSpace(req.Locale); locale != "" {
		b.WriteString("Write voice-over text in locale: ")
		b.WriteString(locale)
		b.WriteString("\n")
	}
	b.WriteString("Brief: ")
	b.WriteString(strings.TrimSpace(req.Brief))
	return b.String()
}

var _ Gateway = (*Gemini)(nil)
