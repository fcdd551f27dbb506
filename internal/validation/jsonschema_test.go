package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func node(id string, kind schema.NodeKind, cfg any) schema.Node {
	raw, _ := json.Marshal(cfg)
	return schema.Node{ID: id, Kind: kind, Config: raw}
}

func TestValidateGraph_Valid(t *testing.T) {
	v := newValidator(t)

	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			node("src", schema.KindMedia, schema.MediaConfig{Type: schema.TypeVideo, Ref: "store://clip.mp4"}),
			node("crop", schema.KindCrop, schema.CropConfig{X: 10, Y: 20, W: 50, H: 60}),
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "src", SourceHandle: "media", Target: "crop", TargetHandle: "media"},
		},
	}

	assert.NoError(t, v.ValidateGraph(graph))
}

func TestValidateGraph_EmptyNodes(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateGraph(&schema.WorkflowGraph{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.FrescoError).Code)
}

func TestValidateGraph_UnknownKind(t *testing.T) {
	v := newValidator(t)
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{{ID: "a", Kind: "hologram"}},
	}
	err := v.ValidateGraph(graph)
	require.Error(t, err)
}

func TestValidateGraph_MediaMissingRef(t *testing.T) {
	v := newValidator(t)
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{node("m", schema.KindMedia, map[string]any{"type": "image"})},
	}
	err := v.ValidateGraph(graph)
	require.Error(t, err)
	fe := err.(*schema.FrescoError)
	assert.NotEmpty(t, fe.Details["issues"])
}

func TestValidateGraph_CropOutOfRange(t *testing.T) {
	v := newValidator(t)
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{node("c", schema.KindCrop, map[string]any{"x": 120, "y": 0, "w": 10, "h": 10})},
	}
	require.Error(t, v.ValidateGraph(graph))
}

func TestValidateGraph_EdgeMissingHandle(t *testing.T) {
	v := newValidator(t)
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			node("a", schema.KindText, schema.TextConfig{Template: "x"}),
			node("b", schema.KindText, schema.TextConfig{Template: "y"}),
		},
		Edges: []schema.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}
	require.Error(t, v.ValidateGraph(graph))
}

func TestValidateInputs(t *testing.T) {
	v := newValidator(t)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["city"],
		"properties": {
			"city": { "type": "string" },
			"count": { "type": "integer", "minimum": 1 }
		}
	}`)

	assert.NoError(t, v.ValidateInputs(map[string]any{"city": "Sevilla", "count": 3}, inputSchema))

	err := v.ValidateInputs(map[string]any{"count": 0}, inputSchema)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.FrescoError).Code)

	// No schema means no validation.
	assert.NoError(t, v.ValidateInputs(map[string]any{"anything": true}, nil))
}

func TestValidateInputs_SchemaCache(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{"type":"object"}`)

	require.NoError(t, v.ValidateInputs(map[string]any{}, inputSchema))
	require.NoError(t, v.ValidateInputs(map[string]any{}, inputSchema))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1, "identical schemas compile once")
}
