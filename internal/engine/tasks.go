package engine

import "encoding/json"

// Task kinds routed through the backend registry. Each kind is served by
// exactly one registered backend.
const (
	TaskKindInference   = "inference"
	TaskKindMediaProbe  = "media.probe"
	TaskKindCropLocal   = "media.crop.local"
	TaskKindCropRemote  = "media.crop.remote"
	TaskKindFrameLocal  = "media.frame.local"
	TaskKindFrameRemote = "media.frame.remote"
)

// PromptSegment is one ordered piece of an assembled inference prompt.
type PromptSegment struct {
	// Role is "system" or "user".
	Role string `json:"role"`
	// Text is set for textual segments.
	Text string `json:"text,omitempty"`
	// MediaRef and MediaType are set for media attachment segments.
	MediaRef  string `json:"media_ref,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// InferenceRequest is the payload for TaskKindInference.
type InferenceRequest struct {
	Model       string          `json:"model,omitempty"`
	Segments    []PromptSegment `json:"segments"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	// Credential selects which configured API credential the backend uses.
	Credential string `json:"credential,omitempty"`
}

// InferenceResult is the result payload for TaskKindInference.
type InferenceResult struct {
	Text string `json:"text"`
}

// ProbeRequest is the payload for TaskKindMediaProbe.
type ProbeRequest struct {
	Ref string `json:"ref"`
}

// ProbeResult carries the probed source geometry and duration.
type ProbeResult struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// PixelRect is an absolute crop rectangle in source pixels.
type PixelRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// CropLocalRequest is the payload for TaskKindCropLocal: the source is
// already reachable locally, the rect is precomputed in pixels.
type CropLocalRequest struct {
	Ref   string    `json:"ref"`
	Video bool      `json:"video"`
	Rect  PixelRect `json:"rect"`
}

// CropRemoteRequest is the payload for TaskKindCropRemote: the remote
// service imports the source, applies the percent-based rect, and stores
// the result itself.
type CropRemoteRequest struct {
	Ref   string  `json:"ref"`
	Video bool    `json:"video"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
}

// FrameLocalRequest is the payload for TaskKindFrameLocal.
type FrameLocalRequest struct {
	Ref     string  `json:"ref"`
	Seconds float64 `json:"seconds"`
}

// FrameRemoteRequest is the payload for TaskKindFrameRemote. Exactly one of
// Seconds or Percent is set; the remote service resolves percent against the
// duration it probes during import.
type FrameRemoteRequest struct {
	Ref     string   `json:"ref"`
	Seconds *float64 `json:"seconds,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
}

// MediaResult is the result payload for every media transform kind: the
// stored reference of the produced asset.
type MediaResult struct {
	Ref string `json:"ref"`
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
