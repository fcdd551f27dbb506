package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/mbracero/fresco/internal/diagram"
	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/internal/streaming"
	"github.com/mbracero/fresco/pkg/schema"
)

// CreateWorkflowRequest is the body for saving a workflow.
type CreateWorkflowRequest struct {
	Name        string               `json:"name"        validate:"required"`
	Description string               `json:"description"`
	Graph       schema.WorkflowGraph `json:"graph"       validate:"required"`
	InputSchema json.RawMessage      `json:"input_schema,omitempty"`
}

// CreateJobRequest is the body for creating a scheduled job.
type CreateJobRequest struct {
	WorkflowID     string          `json:"workflow_id"     validate:"required"`
	CronExpression string          `json:"cron_expression" validate:"required"`
	Inputs         json.RawMessage `json:"inputs,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"`
}

// --- Workflows ---

func (a *API) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := a.validator.ValidateGraph(&req.Graph); err != nil {
		return handleServiceError(c, err)
	}

	wf := &store.WorkflowRecord{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Graph:       req.Graph,
		InputSchema: req.InputSchema,
	}
	if err := a.store.SaveWorkflow(c.Context(), wf); err != nil {
		return handleServiceError(c, err)
	}

	saved, err := a.store.GetWorkflow(c.Context(), wf.ID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (a *API) GetWorkflow(c fiber.Ctx) error {
	wf, err := a.store.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(wf)
}

func (a *API) ListWorkflows(c fiber.Ctx) error {
	filter := store.WorkflowFilter{Name: c.Query("name")}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return badRequest(c, "invalid limit")
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return badRequest(c, "invalid offset")
	}

	workflows, err := a.store.ListWorkflows(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"workflows": workflows})
}

func (a *API) DeleteWorkflow(c fiber.Ctx) error {
	if err := a.store.DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// WorkflowDiagram renders a saved workflow's graph as a diagram. The format
// query selects mermaid (default), ascii, or png. A run_id query overlays
// that run's node states onto the diagram.
func (a *API) WorkflowDiagram(c fiber.Ctx) error {
	wf, err := a.store.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var results map[string]engine.NodeResult
	if runID := c.Query("run_id"); runID != "" {
		snap, err := a.runs.Snapshot(c.Context(), runID)
		if err != nil {
			return handleServiceError(c, err)
		}
		results = snap.Nodes
	}

	model, err := diagram.Build(&wf.Graph, wf.Name, results)
	if err != nil {
		return handleServiceError(c, err)
	}

	switch format := c.Query("format", "mermaid"); format {
	case "mermaid":
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(diagram.RenderMermaid(model))
	case "ascii":
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(diagram.RenderASCII(model))
	case "png":
		png, err := diagram.RenderImage(model)
		if err != nil {
			return internalError(c, err)
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(png)
	default:
		return badRequest(c, "unknown format: "+format)
	}
}

// --- Runs ---

func (a *API) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	runID, err := a.runs.Start(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": runID})
}

func (a *API) GetRun(c fiber.Ctx) error {
	snap, err := a.runs.Snapshot(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(snap)
}

func (a *API) ListRuns(c fiber.Ctx) error {
	filter := store.RunFilter{WorkflowID: c.Query("workflow_id")}
	if s := c.Query("status"); s != "" {
		status := schema.RunStatus(s)
		filter.Status = &status
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return badRequest(c, "invalid limit")
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return badRequest(c, "invalid offset")
	}

	runs, err := a.runs.List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"runs": runs})
}

func (a *API) CancelRun(c fiber.Ctx) error {
	if err := a.runs.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// RunEvents streams a run's events over Server-Sent Events. With ?since=N
// the persisted event log is replayed first, from sequence N (exclusive),
// before live events. The subscription lives until the client disconnects,
// which surfaces as a flush error.
func (a *API) RunEvents(c fiber.Ctx) error {
	runID := c.Params("id")
	if _, err := a.store.GetRun(c.Context(), runID); err != nil {
		return handleServiceError(c, err)
	}

	filter := streaming.EventFilter{RunID: runID}
	if types := c.Query("types"); types != "" {
		filter.EventTypes = splitCSV(types)
	}

	var history []*store.RunEvent
	if sinceRaw := c.Query("since"); sinceRaw != "" {
		since, err := strconv.ParseInt(sinceRaw, 10, 64)
		if err != nil || since < 0 {
			return badRequest(c, "since must be a non-negative sequence number")
		}
		history, err = a.events.Events(c.Context(), runID, since)
		if err != nil {
			return handleServiceError(c, err)
		}
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe, err := a.hub.Subscribe(ctx, filter)
	if err != nil {
		cancel()
		return handleServiceError(c, err)
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer unsubscribe()

		for _, event := range history {
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			if err := w.Flush(); err != nil {
				return
			}
		}

		for event := range ch {
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			if err := w.Flush(); err != nil {
				// Client went away.
				return
			}
		}
	})
}

// --- Scheduled jobs ---

func (a *API) CreateJob(c fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := a.cronParser.Parse(req.CronExpression); err != nil {
		return badRequest(c, "invalid cron expression: "+err.Error())
	}
	if _, err := a.store.GetWorkflow(c.Context(), req.WorkflowID); err != nil {
		return handleServiceError(c, err)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		WorkflowID:     req.WorkflowID,
		CronExpression: req.CronExpression,
		Inputs:         req.Inputs,
		Enabled:        enabled,
	}
	if err := a.store.CreateScheduledJob(c.Context(), job); err != nil {
		return handleServiceError(c, err)
	}

	saved, err := a.store.GetScheduledJob(c.Context(), job.ID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (a *API) GetJob(c fiber.Ctx) error {
	job, err := a.store.GetScheduledJob(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(job)
}

func (a *API) ListJobs(c fiber.Ctx) error {
	filter := store.ScheduledJobFilter{WorkflowID: c.Query("workflow_id")}
	jobs, err := a.store.ListScheduledJobs(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

func (a *API) DeleteJob(c fiber.Ctx) error {
	if err := a.store.DeleteScheduledJob(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// --- Helpers ---

func queryInt(c fiber.Ctx, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
