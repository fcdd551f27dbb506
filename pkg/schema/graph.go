package schema

import "encoding/json"

// ValueType is the semantic type carried by a handle or output value.
type ValueType string

const (
	TypeText  ValueType = "text"
	TypeImage ValueType = "image"
	TypeVideo ValueType = "video"
)

// NodeKind enumerates the closed set of node kinds. Executor selection
// switches exhaustively over this set, so adding a kind is a compile-time
// visible change.
type NodeKind string

const (
	KindText      NodeKind = "text"
	KindMedia     NodeKind = "media"
	KindInference NodeKind = "inference"
	KindCrop      NodeKind = "crop"
	KindFrames    NodeKind = "frames"
)

// Kinds lists every known node kind.
var Kinds = []NodeKind{KindText, KindMedia, KindInference, KindCrop, KindFrames}

// Node is a single typed node on the workflow canvas.
type Node struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Edge connects a source node's output handle to a target node's input handle.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// WorkflowGraph is the caller-supplied graph for a run. Immutable for the
// duration of the run.
type WorkflowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges,omitempty"`
}

// NodeByID returns the node with the given ID, or nil.
func (g *WorkflowGraph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Value is a single node output: exactly one of Text or MediaRef is set,
// discriminated by Type.
type Value struct {
	Type     ValueType `json:"type"`
	Text     string    `json:"text,omitempty"`
	MediaRef string    `json:"mediaRef,omitempty"`
}

// TextValue builds a text Value.
func TextValue(s string) Value {
	return Value{Type: TypeText, Text: s}
}

// MediaValue builds a media-reference Value of the given type.
func MediaValue(t ValueType, ref string) Value {
	return Value{Type: t, MediaRef: ref}
}

// Outputs maps a node's output handles to their produced values.
// Written exactly once, at executor completion.
type Outputs map[string]Value

// --- Handle declarations ---

// InputHandle declares a named input handle and the value types it accepts.
type InputHandle struct {
	Name     string
	Accepts  []ValueType
	Required bool
}

// OutputHandle declares a named output handle and its value type.
// Type is empty for kinds whose output type depends on the node's config or
// on its inbound edge (media, crop); the compiler resolves those.
type OutputHandle struct {
	Name string
	Type ValueType
}

// KindSpec declares the fixed handle sets of one node kind.
type KindSpec struct {
	Inputs  []InputHandle
	Outputs []OutputHandle
}

// Handle name constants shared by compiler and executors.
const (
	HandleInput  = "input"
	HandlePrompt = "prompt"
	HandleImage  = "image"
	HandleVideo  = "video"
	HandleMedia  = "media"
	HandleText   = "text"
)

var kindSpecs = map[NodeKind]KindSpec{
	KindText: {
		Inputs:  []InputHandle{{Name: HandleInput, Accepts: []ValueType{TypeText}}},
		Outputs: []OutputHandle{{Name: HandleText, Type: TypeText}},
	},
	KindMedia: {
		Outputs: []OutputHandle{{Name: HandleMedia}}, // type from MediaConfig
	},
	KindInference: {
		Inputs: []InputHandle{
			{Name: HandlePrompt, Accepts: []ValueType{TypeText}},
			{Name: HandleImage, Accepts: []ValueType{TypeImage}},
			{Name: HandleVideo, Accepts: []ValueType{TypeVideo}},
		},
		Outputs: []OutputHandle{{Name: HandleText, Type: TypeText}},
	},
	KindCrop: {
		Inputs:  []InputHandle{{Name: HandleMedia, Accepts: []ValueType{TypeImage, TypeVideo}, Required: true}},
		Outputs: []OutputHandle{{Name: HandleMedia}}, // same type as the inbound media
	},
	KindFrames: {
		Inputs:  []InputHandle{{Name: HandleVideo, Accepts: []ValueType{TypeVideo}, Required: true}},
		Outputs: []OutputHandle{{Name: HandleImage, Type: TypeImage}},
	},
}

// KindOf returns the handle spec for a kind.
func KindOf(k NodeKind) (KindSpec, bool) {
	spec, ok := kindSpecs[k]
	return spec, ok
}

// InputHandleOf returns the declared input handle of a kind by name.
func InputHandleOf(k NodeKind, name string) (InputHandle, bool) {
	spec, ok := kindSpecs[k]
	if !ok {
		return InputHandle{}, false
	}
	for _, h := range spec.Inputs {
		if h.Name == name {
			return h, true
		}
	}
	return InputHandle{}, false
}

// OutputHandleOf returns the declared output handle of a kind by name.
func OutputHandleOf(k NodeKind, name string) (OutputHandle, bool) {
	spec, ok := kindSpecs[k]
	if !ok {
		return OutputHandle{}, false
	}
	for _, h := range spec.Outputs {
		if h.Name == name {
			return h, true
		}
	}
	return OutputHandle{}, false
}

// --- Per-kind configs ---

// TextConfig configures a text node. Template supports ${{ ... }}
// interpolation of upstream outputs and run inputs. Expression, when set,
// is evaluated by the named engine against the resolved scope after
// interpolation and replaces the template result.
type TextConfig struct {
	Template   string `json:"template"`
	Engine     string `json:"engine,omitempty"` // expr | cel | jq
	Expression string `json:"expression,omitempty"`
}

// MediaConfig configures a media node: an already-stored asset reference.
type MediaConfig struct {
	Type ValueType `json:"type"` // image | video
	Ref  string    `json:"ref"`  // opaque URI
}

// InferenceConfig configures a model-inference node.
type InferenceConfig struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CropConfig configures a crop node. All fields are percentages in [0,100]
// of the source dimensions.
type CropConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FramesConfig configures a frame-extraction node. Exactly one of Seconds
// (absolute offset) or Percent (of probed source duration) must be set.
type FramesConfig struct {
	Seconds *float64 `json:"seconds,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
}

// DecodeConfig decodes and validates a node's config into its kind-specific
// struct. The switch is exhaustive over NodeKind.
func DecodeConfig(n *Node) (any, error) {
	switch n.Kind {
	case KindText:
		var cfg TextConfig
		if err := decodeInto(n, &cfg); err != nil {
			return nil, err
		}
		switch cfg.Engine {
		case "", "expr", "cel", "jq":
		default:
			return nil, NewErrorf(ErrCodeValidation, "text node %s has unknown engine %q", n.ID, cfg.Engine).WithNode(n.ID)
		}
		if cfg.Engine != "" && cfg.Expression == "" {
			return nil, NewErrorf(ErrCodeValidation, "text node %s sets engine %q without an expression", n.ID, cfg.Engine).WithNode(n.ID)
		}
		return &cfg, nil

	case KindMedia:
		var cfg MediaConfig
		if err := decodeInto(n, &cfg); err != nil {
			return nil, err
		}
		if cfg.Type != TypeImage && cfg.Type != TypeVideo {
			return nil, NewErrorf(ErrCodeValidation, "media node %s has invalid type %q", n.ID, cfg.Type).WithNode(n.ID)
		}
		if cfg.Ref == "" {
			return nil, NewErrorf(ErrCodeValidation, "media node %s has empty ref", n.ID).WithNode(n.ID)
		}
		return &cfg, nil

	case KindInference:
		// Config is optional: the prompt may arrive entirely through the
		// prompt input handle.
		var cfg InferenceConfig
		if len(n.Config) > 0 {
			if err := decodeInto(n, &cfg); err != nil {
				return nil, err
			}
		}
		return &cfg, nil

	case KindCrop:
		var cfg CropConfig
		if err := decodeInto(n, &cfg); err != nil {
			return nil, err
		}
		for name, v := range map[string]float64{"x": cfg.X, "y": cfg.Y, "w": cfg.W, "h": cfg.H} {
			if v < 0 || v > 100 {
				return nil, NewErrorf(ErrCodeValidation, "crop node %s: %s=%v outside [0,100]", n.ID, name, v).WithNode(n.ID)
			}
		}
		return &cfg, nil

	case KindFrames:
		var cfg FramesConfig
		if err := decodeInto(n, &cfg); err != nil {
			return nil, err
		}
		if (cfg.Seconds == nil) == (cfg.Percent == nil) {
			return nil, NewErrorf(ErrCodeValidation, "frames node %s must set exactly one of seconds or percent", n.ID).WithNode(n.ID)
		}
		if cfg.Seconds != nil && *cfg.Seconds < 0 {
			return nil, NewErrorf(ErrCodeValidation, "frames node %s: seconds must be >= 0", n.ID).WithNode(n.ID)
		}
		if cfg.Percent != nil && (*cfg.Percent < 0 || *cfg.Percent > 100) {
			return nil, NewErrorf(ErrCodeValidation, "frames node %s: percent outside [0,100]", n.ID).WithNode(n.ID)
		}
		return &cfg, nil
	}

	return nil, NewErrorf(ErrCodeValidation, "node %s has unknown kind %q", n.ID, n.Kind).WithNode(n.ID)
}

func decodeInto(n *Node, dst any) error {
	if len(n.Config) == 0 {
		return NewErrorf(ErrCodeValidation, "node %s has no config", n.ID).WithNode(n.ID)
	}
	if err := json.Unmarshal(n.Config, dst); err != nil {
		return NewErrorf(ErrCodeValidation, "node %s has invalid config: %v", n.ID, err).WithNode(n.ID)
	}
	return nil
}
