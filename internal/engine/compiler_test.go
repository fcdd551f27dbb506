package engine

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/mbracero/fresco/pkg/schema"
)

// --- helpers ---

func textNode(id, template string) schema.Node {
	cfg, _ := json.Marshal(schema.TextConfig{Template: template})
	return schema.Node{ID: id, Kind: schema.KindText, Config: cfg}
}

func mediaNode(id string, t schema.ValueType, ref string) schema.Node {
	cfg, _ := json.Marshal(schema.MediaConfig{Type: t, Ref: ref})
	return schema.Node{ID: id, Kind: schema.KindMedia, Config: cfg}
}

func inferenceNode(id, prompt string) schema.Node {
	cfg, _ := json.Marshal(schema.InferenceConfig{Prompt: prompt})
	return schema.Node{ID: id, Kind: schema.KindInference, Config: cfg}
}

func cropNode(id string, x, y, w, h float64) schema.Node {
	cfg, _ := json.Marshal(schema.CropConfig{X: x, Y: y, W: w, H: h})
	return schema.Node{ID: id, Kind: schema.KindCrop, Config: cfg}
}

func framesNode(id string, seconds float64) schema.Node {
	cfg, _ := json.Marshal(schema.FramesConfig{Seconds: &seconds})
	return schema.Node{ID: id, Kind: schema.KindFrames, Config: cfg}
}

func edge(id, source, sourceHandle, target, targetHandle string) schema.Edge {
	return schema.Edge{ID: id, Source: source, SourceHandle: sourceHandle, Target: target, TargetHandle: targetHandle}
}

func assertCode(t *testing.T, err error, expectedCode string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	fe, ok := err.(*schema.FrescoError)
	if !ok {
		t.Fatalf("expected FrescoError, got %T: %v", err, err)
	}
	if fe.Code != expectedCode {
		t.Errorf("expected code %s, got %s: %s", expectedCode, fe.Code, fe.Message)
	}
}

// --- graph structure tests ---

func TestCompile_LinearChain(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			mediaNode("src", schema.TypeVideo, "store://clip.mp4"),
			cropNode("crop", 10, 10, 80, 80),
			framesNode("frame", 3),
		},
		Edges: []schema.Edge{
			edge("e1", "src", schema.HandleMedia, "crop", schema.HandleMedia),
			edge("e2", "crop", schema.HandleMedia, "frame", schema.HandleVideo),
		},
	}

	plan, err := Compile(graph, CompileOptions{Scope: schema.ScopeFull})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d: %v", len(plan.Levels), plan.Levels)
	}
	want := [][]string{{"src"}, {"crop"}, {"frame"}}
	if !reflect.DeepEqual(plan.Levels, want) {
		t.Errorf("expected levels %v, got %v", want, plan.Levels)
	}
	// Crop inherits the video type from its source, so the chain into the
	// frames node type-checks.
	if got := plan.OutTypes["crop"][schema.HandleMedia]; got != schema.TypeVideo {
		t.Errorf("expected crop output type video, got %q", got)
	}
}

func TestCompile_Diamond(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			mediaNode("a", schema.TypeVideo, "store://clip.mp4"),
			cropNode("b", 0, 0, 50, 50),
			framesNode("c", 1),
			inferenceNode("d", "describe these"),
		},
		Edges: []schema.Edge{
			edge("e1", "a", schema.HandleMedia, "b", schema.HandleMedia),
			edge("e2", "a", schema.HandleMedia, "c", schema.HandleVideo),
			edge("e3", "b", schema.HandleMedia, "d", schema.HandleVideo),
			edge("e4", "c", schema.HandleImage, "d", schema.HandleImage),
		},
	}

	plan, err := Compile(graph, CompileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(plan.Levels, want) {
		t.Errorf("expected levels %v, got %v", want, plan.Levels)
	}
}

func TestCompile_Deterministic(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			textNode("z", "zz"),
			textNode("m", "mm"),
			textNode("a", "aa"),
			textNode("sink", "${{ nodes.a.text }}"),
		},
		Edges: []schema.Edge{
			edge("e1", "a", schema.HandleText, "sink", schema.HandleInput),
		},
	}

	first, err := Compile(graph, CompileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		next, err := Compile(graph, CompileOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first.Levels, next.Levels) {
			t.Fatalf("levels differ across compilations: %v vs %v", first.Levels, next.Levels)
		}
		if !reflect.DeepEqual(first.Sorted, next.Sorted) {
			t.Fatalf("order differs across compilations: %v vs %v", first.Sorted, next.Sorted)
		}
	}
	// Independent roots appear in ascending ID order.
	if !reflect.DeepEqual(first.Levels[0], []string{"a", "m", "z"}) {
		t.Errorf("expected sorted level 0, got %v", first.Levels[0])
	}
}

// --- validation tests ---

func TestCompile_EmptyGraph(t *testing.T) {
	_, err := Compile(&schema.WorkflowGraph{}, CompileOptions{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestCompile_DuplicateNodeID(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{textNode("a", "x"), textNode("a", "y")},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestCompile_UnknownKind(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{{ID: "a", Kind: "teleport"}},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestCompile_DanglingEdgeSource(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{textNode("a", "x")},
		Edges: []schema.Edge{edge("e1", "ghost", schema.HandleText, "a", schema.HandleInput)},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeDanglingEdge)
}

func TestCompile_UnknownHandle(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{textNode("a", "x"), textNode("b", "y")},
		Edges: []schema.Edge{edge("e1", "a", "sidechannel", "b", schema.HandleInput)},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeDanglingEdge)
}

func TestCompile_TypeMismatch(t *testing.T) {
	// An image source cannot feed a frames node, which only takes video.
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			mediaNode("img", schema.TypeImage, "store://photo.png"),
			framesNode("frame", 1),
		},
		Edges: []schema.Edge{edge("e1", "img", schema.HandleMedia, "frame", schema.HandleVideo)},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeTypeMismatch)
}

func TestCompile_TypeMismatchThroughCrop(t *testing.T) {
	// The crop node inherits image from its source, so the downstream
	// frames edge must be rejected even though crop's output is dynamic.
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			mediaNode("img", schema.TypeImage, "store://photo.png"),
			cropNode("crop", 0, 0, 100, 100),
			framesNode("frame", 1),
		},
		Edges: []schema.Edge{
			edge("e1", "img", schema.HandleMedia, "crop", schema.HandleMedia),
			edge("e2", "crop", schema.HandleMedia, "frame", schema.HandleVideo),
		},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeTypeMismatch)
}

func TestCompile_DuplicateInboundEdge(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			textNode("a", "x"),
			textNode("b", "y"),
			textNode("c", "z"),
		},
		Edges: []schema.Edge{
			edge("e1", "a", schema.HandleText, "c", schema.HandleInput),
			edge("e2", "b", schema.HandleText, "c", schema.HandleInput),
		},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeValidation)
}

// --- cycle tests ---

func TestCompile_SelfDependency(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{textNode("a", "x")},
		Edges: []schema.Edge{edge("e1", "a", schema.HandleText, "a", schema.HandleInput)},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeCycleDetected)
}

func TestCompile_CycleReportsMembers(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.Node{
			textNode("root", "ok"),
			textNode("a", "x"),
			textNode("b", "y"),
		},
		Edges: []schema.Edge{
			edge("e1", "a", schema.HandleText, "b", schema.HandleInput),
			edge("e2", "b", schema.HandleText, "a", schema.HandleInput),
		},
	}
	_, err := Compile(graph, CompileOptions{})
	assertCode(t, err, schema.ErrCodeCycleDetected)

	fe := err.(*schema.FrescoError)
	members, ok := fe.Details["nodes"].([]string)
	if !ok {
		t.Fatalf("expected cycle member list in details, got %v", fe.Details)
	}
	if !reflect.DeepEqual(members, []string{"a", "b"}) {
		t.Errorf("expected cycle members [a b], got %v", members)
	}
}

// --- scope tests ---

func diamondGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Nodes: []schema.Node{
			mediaNode("a", schema.TypeVideo, "store://clip.mp4"),
			cropNode("b", 0, 0, 50, 50),
			framesNode("c", 1),
			inferenceNode("d", "describe"),
		},
		Edges: []schema.Edge{
			edge("e1", "a", schema.HandleMedia, "b", schema.HandleMedia),
			edge("e2", "a", schema.HandleMedia, "c", schema.HandleVideo),
			edge("e3", "b", schema.HandleMedia, "d", schema.HandleVideo),
			edge("e4", "c", schema.HandleImage, "d", schema.HandleImage),
		},
	}
}

func TestCompile_SelectedScopeIncludesAncestors(t *testing.T) {
	plan, err := Compile(diamondGraph(), CompileOptions{
		Scope:     schema.ScopeSelected,
		Selection: []string{"d"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Nodes) != 4 {
		t.Errorf("expected all 4 ancestors in scope, got %d", len(plan.Nodes))
	}
}

func TestCompile_SelectedScopeTrimsDescendants(t *testing.T) {
	plan, err := Compile(diamondGraph(), CompileOptions{
		Scope:     schema.ScopeSelected,
		Selection: []string{"b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Nodes) != 2 {
		t.Fatalf("expected scope {a, b}, got %v", plan.Sorted)
	}
	if _, ok := plan.Nodes["a"]; !ok {
		t.Error("ancestor a missing from scope")
	}
	if _, ok := plan.Nodes["d"]; ok {
		t.Error("descendant d must not be in scope")
	}
}

func TestCompile_SelectedScopeEmptySelection(t *testing.T) {
	_, err := Compile(diamondGraph(), CompileOptions{Scope: schema.ScopeSelected})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestCompile_SingleScope(t *testing.T) {
	plan, err := Compile(diamondGraph(), CompileOptions{
		Scope:          schema.ScopeSingle,
		Selection:      []string{"b"},
		ProvidedInputs: []string{schema.HandleMedia},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Nodes) != 1 || len(plan.Levels) != 1 {
		t.Fatalf("expected a one-node plan, got %v", plan.Sorted)
	}
	if len(plan.Deps["b"]) != 0 || len(plan.InEdges["b"]) != 0 {
		t.Error("single-node plan must carry no dependencies")
	}
}

func TestCompile_SingleScopeMissingRequiredInput(t *testing.T) {
	_, err := Compile(diamondGraph(), CompileOptions{
		Scope:     schema.ScopeSingle,
		Selection: []string{"b"},
	})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestCompile_SingleScopeUnknownInput(t *testing.T) {
	_, err := Compile(diamondGraph(), CompileOptions{
		Scope:          schema.ScopeSingle,
		Selection:      []string{"b"},
		ProvidedInputs: []string{schema.HandleMedia, "bogus"},
	})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestCompile_SingleScopeRequiresOneNode(t *testing.T) {
	_, err := Compile(diamondGraph(), CompileOptions{
		Scope:     schema.ScopeSingle,
		Selection: []string{"b", "c"},
	})
	assertCode(t, err, schema.ErrCodeValidation)
}
