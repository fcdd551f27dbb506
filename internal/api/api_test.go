package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/internal/api"
	"github.com/mbracero/fresco/internal/backends/memory"
	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/internal/recorder"
	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/internal/streaming"
	"github.com/mbracero/fresco/internal/validation"
	"github.com/mbracero/fresco/pkg/schema"
)

var allKinds = []string{
	engine.TaskKindInference,
	engine.TaskKindMediaProbe,
	engine.TaskKindCropLocal,
	engine.TaskKindCropRemote,
	engine.TaskKindFrameLocal,
	engine.TaskKindFrameRemote,
}

func newTestApp(t *testing.T) (*fiber.App, store.Store) {
	t.Helper()

	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()

	reg := engine.NewBackendRegistry()
	backend := memory.New()
	for _, kind := range allKinds {
		reg.Register(kind, backend)
	}

	cfg := engine.DefaultDispatcherConfig()
	cfg.PollInterval = time.Millisecond
	dispatcher := engine.NewDispatcher(reg, nil, nil, cfg)

	executors, err := engine.NewExecutors(dispatcher, nil, []string{"primary"})
	require.NoError(t, err)

	rec := recorder.NewMulti(
		recorder.NewStoreRecorder(st, nil),
		recorder.NewStreamRecorder(hub),
	)
	scheduler := engine.NewScheduler(executors, rec, nil, 4)
	manager := engine.NewManager(scheduler, nil, 0)

	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	runs := api.NewRunService(st, manager, v, nil)
	a := api.NewAPI(slog.Default(), st, runs, hub, v)

	return a.App(), st
}

func textGraph(template string) schema.WorkflowGraph {
	cfg, _ := json.Marshal(map[string]any{"template": template})
	return schema.WorkflowGraph{
		Nodes: []schema.Node{{ID: "greet", Kind: schema.KindText, Config: cfg}},
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestWorkflowCRUD(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		Name:        "greeting",
		Description: "renders a greeting",
		Graph:       textGraph("hello"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created store.WorkflowRecord
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "greeting", created.Name)
	assert.False(t, created.CreatedAt.IsZero())

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got store.WorkflowRecord
	decodeBody(t, resp, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, got.Graph.Nodes, 1)

	resp = doJSON(t, app, http.MethodGet, "/workflows?name=greeting", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Workflows []store.WorkflowRecord `json:"workflows"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Workflows, 1)

	resp = doJSON(t, app, http.MethodDelete, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCreateWorkflow_Validation(t *testing.T) {
	app, _ := newTestApp(t)

	// Missing name.
	resp := doJSON(t, app, http.MethodPost, "/workflows", map[string]any{
		"graph": textGraph("hello"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Unknown node kind fails schema validation.
	resp = doJSON(t, app, http.MethodPost, "/workflows", map[string]any{
		"name": "bad",
		"graph": map[string]any{
			"nodes": []map[string]any{{"id": "n1", "kind": "teleport"}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestStartRun_InlineGraph(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{
		Graph: &schema.WorkflowGraph{Nodes: textGraph("hello").Nodes},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started struct {
		RunID string `json:"run_id"`
	}
	decodeBody(t, resp, &started)
	require.NotEmpty(t, started.RunID)

	snap := awaitRun(t, app, started.RunID)
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	require.Contains(t, snap.Nodes, "greet")
	assert.Equal(t, "hello", snap.Nodes["greet"].Outputs["text"].Text)
}

func TestStartRun_FromSavedWorkflow(t *testing.T) {
	app, st := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		Name:  "greeting",
		Graph: textGraph("hi there"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var wf store.WorkflowRecord
	decodeBody(t, resp, &wf)

	resp = doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{WorkflowID: wf.ID})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started struct {
		RunID string `json:"run_id"`
	}
	decodeBody(t, resp, &started)

	snap := awaitRun(t, app, started.RunID)
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.Equal(t, wf.ID, snap.WorkflowID)

	rec, err := st.GetRun(t.Context(), started.RunID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, rec.WorkflowID)
}

func TestStartRun_Validation(t *testing.T) {
	app, _ := newTestApp(t)

	// Neither workflow_id nor graph.
	resp := doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Both at once.
	g := textGraph("x")
	resp = doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{
		WorkflowID: "wf-1",
		Graph:      &g,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Unknown workflow.
	resp = doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{WorkflowID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCancelRun_NotFound(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodDelete, "/runs/no-such-run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestListRuns(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{
		Graph: &schema.WorkflowGraph{Nodes: textGraph("hello").Nodes},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started struct {
		RunID string `json:"run_id"`
	}
	decodeBody(t, resp, &started)
	awaitRun(t, app, started.RunID)

	resp = doJSON(t, app, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Runs []store.RunRecord `json:"runs"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Runs, 1)
	assert.Equal(t, started.RunID, listed.Runs[0].ID)
}

func TestRunEvents_UnknownRun(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/runs/no-such-run/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestScheduledJobEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		Name:  "nightly",
		Graph: textGraph("tick"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var wf store.WorkflowRecord
	decodeBody(t, resp, &wf)

	// Bad cron expression.
	resp = doJSON(t, app, http.MethodPost, "/jobs", api.CreateJobRequest{
		WorkflowID:     wf.ID,
		CronExpression: "not cron",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Unknown workflow.
	resp = doJSON(t, app, http.MethodPost, "/jobs", api.CreateJobRequest{
		WorkflowID:     "missing",
		CronExpression: "0 3 * * *",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/jobs", api.CreateJobRequest{
		WorkflowID:     wf.ID,
		CronExpression: "0 3 * * *",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var job store.ScheduledJob
	decodeBody(t, resp, &job)
	assert.NotEmpty(t, job.ID)
	assert.True(t, job.Enabled)

	resp = doJSON(t, app, http.MethodGet, "/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got store.ScheduledJob
	decodeBody(t, resp, &got)
	assert.Equal(t, "0 3 * * *", got.CronExpression)

	resp = doJSON(t, app, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Jobs []store.ScheduledJob `json:"jobs"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Jobs, 1)

	resp = doJSON(t, app, http.MethodDelete, "/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestWorkflowDiagram(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		Name:  "greeting",
		Graph: textGraph("hello"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var wf store.WorkflowRecord
	decodeBody(t, resp, &wf)

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+wf.ID+"/diagram", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "graph TD")
	assert.Contains(t, body, "greet[")

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+wf.ID+"/diagram?format=ascii", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = readBody(t, resp)
	assert.Contains(t, body, "greet")
	assert.Contains(t, body, "┌")

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+wf.ID+"/diagram?format=dot", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/workflows/missing/diagram", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestWorkflowDiagram_RunOverlay(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		Name:  "greeting",
		Graph: textGraph("hello"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var wf store.WorkflowRecord
	decodeBody(t, resp, &wf)

	resp = doJSON(t, app, http.MethodPost, "/runs", api.StartRunRequest{WorkflowID: wf.ID})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started struct {
		RunID string `json:"run_id"`
	}
	decodeBody(t, resp, &started)
	awaitRun(t, app, started.RunID)

	resp = doJSON(t, app, http.MethodGet, "/workflows/"+wf.ID+"/diagram?run_id="+started.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "class greet succeeded")
}

func TestGetRun_ReplaysFromEventLog(t *testing.T) {
	app, st := newTestApp(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Second)
	finished := time.Now().UTC()
	require.NoError(t, st.CreateRun(ctx, &store.RunRecord{
		ID:         "r-log",
		Scope:      schema.ScopeFull,
		Status:     schema.RunStatusPartial,
		StartedAt:  &started,
		FinishedAt: &finished,
	}))

	// Events only, no node result rows. Snapshot must reconstruct the
	// node states from the log.
	for _, e := range []*store.RunEvent{
		{RunID: "r-log", NodeID: "a", Type: schema.EventNodeStarted},
		{RunID: "r-log", NodeID: "a", Type: schema.EventNodeSucceeded,
			Payload: json.RawMessage(`{"text":{"type":"text","text":"hi"}}`)},
		{RunID: "r-log", NodeID: "b", Type: schema.EventNodeStarted},
		{RunID: "r-log", NodeID: "b", Type: schema.EventNodeFailed,
			Payload: json.RawMessage(`{"error":"boom"}`)},
	} {
		require.NoError(t, st.AppendRunEvent(ctx, e))
	}

	resp := doJSON(t, app, http.MethodGet, "/runs/r-log", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap api.RunSnapshot
	decodeBody(t, resp, &snap)

	require.Contains(t, snap.Nodes, "a")
	assert.Equal(t, schema.NodeStatusSucceeded, snap.Nodes["a"].Status)
	assert.Equal(t, "hi", snap.Nodes["a"].Outputs["text"].Text)
	require.Contains(t, snap.Nodes, "b")
	assert.Equal(t, schema.NodeStatusFailed, snap.Nodes["b"].Status)
	assert.Contains(t, snap.Nodes["b"].Error, "boom")
}

func TestRunEvents_BadSince(t *testing.T) {
	app, st := newTestApp(t)
	require.NoError(t, st.CreateRun(context.Background(), &store.RunRecord{
		ID:     "r-sse",
		Scope:  schema.ScopeFull,
		Status: schema.RunStatusNotStarted,
	}))

	resp := doJSON(t, app, http.MethodGet, "/runs/r-sse/events?since=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// awaitRun polls the run endpoint until the run is terminal.
func awaitRun(t *testing.T, app *fiber.App, runID string) *api.RunSnapshot {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp := doJSON(t, app, http.MethodGet, "/runs/"+runID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snap api.RunSnapshot
		decodeBody(t, resp, &snap)
		if snap.Status.Terminal() {
			return &snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return nil
}
