package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

// --- Test graph builders ---

func mustConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func linearGraph(t *testing.T) *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "prompt", Kind: schema.KindText, Config: mustConfig(t, schema.TextConfig{Template: "describe this"})},
			{ID: "answer", Kind: schema.KindInference},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "prompt", SourceHandle: schema.HandleText, Target: "answer", TargetHandle: schema.HandlePrompt},
		},
	}
}

func pipelineGraph(t *testing.T) *schema.WorkflowGraph {
	seconds := 3.0
	return &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "source", Kind: schema.KindMedia, Config: mustConfig(t, schema.MediaConfig{Type: schema.TypeVideo, Ref: "file:///media/clip.mp4"})},
			{ID: "trim", Kind: schema.KindCrop, Config: mustConfig(t, schema.CropConfig{X: 10, Y: 10, W: 80, H: 80})},
			{ID: "thumb", Kind: schema.KindFrames, Config: mustConfig(t, schema.FramesConfig{Seconds: &seconds})},
			{ID: "prompt", Kind: schema.KindText, Config: mustConfig(t, schema.TextConfig{Template: "what is in this frame?"})},
			{ID: "describe", Kind: schema.KindInference},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "source", SourceHandle: schema.HandleMedia, Target: "trim", TargetHandle: schema.HandleMedia},
			{ID: "e2", Source: "trim", SourceHandle: schema.HandleMedia, Target: "thumb", TargetHandle: schema.HandleVideo},
			{ID: "e3", Source: "thumb", SourceHandle: schema.HandleImage, Target: "describe", TargetHandle: schema.HandleImage},
			{ID: "e4", Source: "prompt", SourceHandle: schema.HandleText, Target: "describe", TargetHandle: schema.HandlePrompt},
		},
	}
}

func cyclicGraph(t *testing.T) *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "a", Kind: schema.KindText, Config: mustConfig(t, schema.TextConfig{Template: "a"})},
			{ID: "b", Kind: schema.KindText, Config: mustConfig(t, schema.TextConfig{Template: "b"})},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "a", SourceHandle: schema.HandleText, Target: "b", TargetHandle: schema.HandleInput},
			{ID: "e2", Source: "b", SourceHandle: schema.HandleText, Target: "a", TargetHandle: schema.HandleInput},
		},
	}
}

// --- Tests ---

func TestBuildLinearGraph(t *testing.T) {
	model, err := Build(linearGraph(t), "Describe", nil)
	require.NoError(t, err)

	assert.Equal(t, "Describe", model.Title)
	// 2 nodes + start + end = 4
	assert.Len(t, model.Nodes, 4)
	assert.NotEmpty(t, model.Edges)
	assert.NotEmpty(t, model.Levels)

	// First level is start, last is end.
	assert.Equal(t, []string{"__start__"}, model.Levels[0])
	assert.Equal(t, []string{"__end__"}, model.Levels[len(model.Levels)-1])

	kinds := make(map[string]NodeKind)
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, NodeKindStart, kinds["__start__"])
	assert.Equal(t, NodeKindEnd, kinds["__end__"])
	assert.Equal(t, NodeKindText, kinds["prompt"])
	assert.Equal(t, NodeKindInference, kinds["answer"])
}

func TestBuildPipelineGraph(t *testing.T) {
	model, err := Build(pipelineGraph(t), "", nil)
	require.NoError(t, err)

	// 5 nodes + start + end = 7
	assert.Len(t, model.Nodes, 7)

	kinds := make(map[string]NodeKind)
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, NodeKindMedia, kinds["source"])
	assert.Equal(t, NodeKindCrop, kinds["trim"])
	assert.Equal(t, NodeKindFrames, kinds["thumb"])
	assert.Equal(t, NodeKindInference, kinds["describe"])
}

func TestBuildEdgeLabels(t *testing.T) {
	model, err := Build(linearGraph(t), "", nil)
	require.NoError(t, err)

	var found bool
	for _, e := range model.Edges {
		if e.From == "prompt" && e.To == "answer" {
			found = true
			assert.Equal(t, "text:prompt", e.Label)
		}
	}
	assert.True(t, found, "graph edge should be present in the model")
}

func TestBuildVirtualEdges(t *testing.T) {
	model, err := Build(pipelineGraph(t), "", nil)
	require.NoError(t, err)

	starts := make(map[string]bool)
	ends := make(map[string]bool)
	for _, e := range model.Edges {
		if e.From == "__start__" {
			starts[e.To] = true
		}
		if e.To == "__end__" {
			ends[e.From] = true
		}
	}

	// Roots hang off start, leaves feed end.
	assert.True(t, starts["source"])
	assert.True(t, starts["prompt"])
	assert.True(t, ends["describe"])
	assert.False(t, starts["describe"])
	assert.False(t, ends["source"])
}

func TestBuildWithStatusOverlay(t *testing.T) {
	results := map[string]engine.NodeResult{
		"prompt": {NodeID: "prompt", Status: schema.NodeStatusSucceeded, DurationMs: 12},
		"answer": {NodeID: "answer", Status: schema.NodeStatusFailed, DurationMs: 300, Error: "model unavailable"},
	}

	model, err := Build(linearGraph(t), "", results)
	require.NoError(t, err)

	for _, node := range model.Nodes {
		switch node.ID {
		case "prompt":
			require.NotNil(t, node.Status)
			assert.Equal(t, schema.NodeStatusSucceeded, node.Status.Status)
			assert.Equal(t, int64(12), node.Status.DurationMs)
		case "answer":
			require.NotNil(t, node.Status)
			assert.Equal(t, schema.NodeStatusFailed, node.Status.Status)
			assert.Equal(t, "model unavailable", node.Status.Error)
		case "__start__", "__end__":
			assert.Nil(t, node.Status)
		}
	}
}

func TestBuildCyclicGraph(t *testing.T) {
	_, err := Build(cyclicGraph(t), "", nil)
	require.Error(t, err)
}

func TestBuildEmptyGraph(t *testing.T) {
	_, err := Build(&schema.WorkflowGraph{}, "", nil)
	require.Error(t, err)
}
