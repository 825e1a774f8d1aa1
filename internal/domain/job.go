package domain

import "time"

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImageGenerate JobType = "image_generate"
	JobTypeTryOn         JobType = "tryon"
	JobTypeImageBatch    JobType = "image_batch"
	JobTypeVideoStory    JobType = "video_story"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending          JobStatus = "PENDING"
	JobStatusProcessing       JobStatus = "PROCESSING"
	JobStatusProcessingImages JobStatus = "PROCESSING_IMAGES"
	JobStatusCompleted        JobStatus = "COMPLETED"
	JobStatusFailed           JobStatus = "FAILED"
)

// Terminal reports whether no further transitions may occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobInput captures everything submitted by the client; immutable after creation.
type JobInput struct {
	Prompt      string   `json:"prompt,omitempty"`
	Images      []string `json:"images,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Locale      string   `json:"locale,omitempty"`
}

// Job is the durable record of one unit of asynchronous generation work.
//
// Exactly one of Result/Error is set once the job is terminal; neither is
// set before that. Batch jobs additionally carry Prompts/Results, video
// story jobs carry Scenes.
type Job struct {
	ID        string       `json:"id"`
	Type      JobType      `json:"type"`
	Status    JobStatus    `json:"status"`
	Input     JobInput     `json:"input"`
	Result    string       `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Prompts   []string     `json:"prompts,omitempty"`
	Results   []SubResult  `json:"results,omitempty"`
	Scenes    []VideoScene `json:"scenes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SubResultStatus tracks one batch item.
type SubResultStatus string

const (
	SubResultPending    SubResultStatus = "pending"
	SubResultGenerating SubResultStatus = "generating"
	SubResultComplete   SubResultStatus = "complete"
	SubResultFailed     SubResultStatus = "failed"
)

// SubResult is one item of a batch job's ordered result collection.
// Results[i].Prompt always corresponds to Prompts[i].
type SubResult struct {
	ID     string          `json:"id"`
	Prompt string          `json:"prompt"`
	Status SubResultStatus `json:"status"`
	Src    string          `json:"src,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SceneStatus tracks one scene of a multi-scene video pipeline.
type SceneStatus string

const (
	ScenePending    SceneStatus = "pending"
	SceneGenerating SceneStatus = "generating"
	SceneComplete   SceneStatus = "complete"
	SceneFailed     SceneStatus = "failed"
)

// VideoScene is one storyboard entry of a video story job. Scenes are
// created by the planning step and mutated only by the scene production
// step of the owning job; they are never shared across jobs.
type VideoScene struct {
	ID            string      `json:"id"`
	BasePrompt    string      `json:"base_prompt"`
	VoiceOver     string      `json:"voice_over,omitempty"`
	OverlayText   string      `json:"overlay_text,omitempty"`
	Status        SceneStatus `json:"status"`
	Src           string      `json:"src,omitempty"`
	OperationName string      `json:"operation_name,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// ScenesSettled reports whether every scene has reached complete or failed.
func (j *Job) ScenesSettled() bool {
	if len(j.Scenes) == 0 {
		return false
	}
	for _, sc := range j.Scenes {
		if sc.Status != SceneComplete && sc.Status != SceneFailed {
			return false
		}
	}
	return true
}
