package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/internal/validation"
	"github.com/mbracero/fresco/pkg/schema"
)

// StartRunRequest describes one run submission. Exactly one of WorkflowID
// and Graph must be set: runs start either from a saved workflow or from an
// inline graph.
type StartRunRequest struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Graph      *schema.WorkflowGraph   `json:"graph,omitempty"`
	Scope      schema.RunScope         `json:"scope,omitempty"`
	Selection  []string                `json:"selection,omitempty"`
	Inputs     map[string]any          `json:"inputs,omitempty"`
	NodeInputs map[string]schema.Value `json:"node_inputs,omitempty"`
}

// RunSnapshot is the API view of a run: the live (or replayed) execution
// state plus the persisted envelope.
type RunSnapshot struct {
	*engine.RunResult

	WorkflowID string    `json:"workflow_id,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// RunService bridges the HTTP surface, the run manager, and the store. It
// owns run record creation so the recorder always finds a row to update.
type RunService struct {
	store     store.Store
	events    *store.EventLog
	manager   *engine.Manager
	validator validation.Validator
	logger    *slog.Logger
}

// NewRunService creates a RunService.
func NewRunService(st store.Store, manager *engine.Manager, validator validation.Validator, logger *slog.Logger) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{
		store:     st,
		events:    store.NewEventLog(st),
		manager:   manager,
		validator: validator,
		logger:    logger,
	}
}

// Start validates the request, persists the run envelope, and launches the
// run. The returned ID can be polled immediately.
func (s *RunService) Start(ctx context.Context, req StartRunRequest) (string, error) {
	if req.Scope == "" {
		req.Scope = schema.ScopeFull
	}

	graph := req.Graph
	if req.WorkflowID != "" {
		if graph != nil {
			return "", schema.NewError(schema.ErrCodeValidation, "workflow_id and graph are mutually exclusive")
		}
		wf, err := s.store.GetWorkflow(ctx, req.WorkflowID)
		if err != nil {
			return "", err
		}
		if err := s.validator.ValidateInputs(req.Inputs, wf.InputSchema); err != nil {
			return "", err
		}
		graph = &wf.Graph
	}
	if graph == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "either workflow_id or graph is required")
	}
	if err := s.validator.ValidateGraph(graph); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	inputs, err := marshalInputs(req.Inputs)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "inputs are not serializable").WithCause(err)
	}

	if err := s.store.CreateRun(ctx, &store.RunRecord{
		ID:         runID,
		WorkflowID: req.WorkflowID,
		Scope:      req.Scope,
		Status:     schema.RunStatusNotStarted,
		Inputs:     inputs,
	}); err != nil {
		return "", err
	}

	_, err = s.manager.StartRun(ctx, graph, engine.StartOptions{
		RunID:      runID,
		Scope:      req.Scope,
		Selection:  req.Selection,
		Inputs:     req.Inputs,
		NodeInputs: req.NodeInputs,
	})
	if err != nil {
		s.markCompileFailure(ctx, runID, err)
		return "", err
	}

	return runID, nil
}

// markCompileFailure records a run that never launched because its graph did
// not compile.
func (s *RunService) markCompileFailure(ctx context.Context, runID string, cause error) {
	status := schema.RunStatusFailed
	now := time.Now().UTC()
	payload, _ := json.Marshal(map[string]any{"error": cause.Error()})
	if err := s.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:     &status,
		Error:      payload,
		FinishedAt: &now,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to mark run as failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
}

// RunWorkflow starts a full run of a saved workflow. It satisfies the
// scheduler's runner contract.
func (s *RunService) RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any) (string, error) {
	return s.Start(ctx, StartRunRequest{
		WorkflowID: workflowID,
		Scope:      schema.ScopeFull,
		Inputs:     inputs,
	})
}

// Snapshot returns the current state of a run. Live runs come from the
// manager; runs that only exist in the store (from previous processes) are
// replayed from persisted node results.
func (s *RunService) Snapshot(ctx context.Context, runID string) (*RunSnapshot, error) {
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	result, mgrErr := s.manager.Status(runID)
	if mgrErr != nil {
		result, err = s.replay(ctx, rec)
		if err != nil {
			return nil, err
		}
	}

	return &RunSnapshot{
		RunResult:  result,
		WorkflowID: rec.WorkflowID,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// replay rebuilds a RunResult from the persisted node results. When no
// result rows exist (a row-level write failed or was interrupted) the node
// states are reconstructed from the run's event log instead.
func (s *RunService) replay(ctx context.Context, rec *store.RunRecord) (*engine.RunResult, error) {
	nodeRecs, err := s.store.ListNodeResults(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if len(nodeRecs) == 0 {
		states, err := s.events.Replay(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		for _, state := range states {
			nodeRecs = append(nodeRecs, state)
		}
	}

	nodes := make(map[string]engine.NodeResult, len(nodeRecs))
	for _, nr := range nodeRecs {
		node := engine.NodeResult{
			NodeID:     nr.NodeID,
			Status:     nr.Status,
			DurationMs: nr.DurationMs,
		}
		if len(nr.Outputs) > 0 {
			if err := json.Unmarshal(nr.Outputs, &node.Outputs); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore, "corrupt outputs for node %s in run %s", nr.NodeID, rec.ID).WithCause(err)
			}
		}
		if len(nr.Error) > 0 {
			node.Error = string(nr.Error)
		}
		nodes[nr.NodeID] = node
	}

	result := &engine.RunResult{
		RunID:  rec.ID,
		Scope:  rec.Scope,
		Status: rec.Status,
		Nodes:  nodes,
	}
	if rec.StartedAt != nil {
		result.StartedAt = *rec.StartedAt
	}
	if rec.FinishedAt != nil {
		result.CompletedAt = *rec.FinishedAt
		if rec.StartedAt != nil {
			result.DurationMs = rec.FinishedAt.Sub(*rec.StartedAt).Milliseconds()
		}
	}
	return result, nil
}

// Cancel stops a run from starting new nodes. Cancelling a terminal or
// unknown-to-the-manager run is a no-op as long as the run record exists.
func (s *RunService) Cancel(ctx context.Context, runID string) error {
	if err := s.manager.Cancel(runID); err == nil {
		return nil
	}
	_, err := s.store.GetRun(ctx, runID)
	return err
}

// List returns persisted run envelopes, newest first.
func (s *RunService) List(ctx context.Context, filter store.RunFilter) ([]*store.RunRecord, error) {
	return s.store.ListRuns(ctx, filter)
}

func marshalInputs(inputs map[string]any) (json.RawMessage, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	return json.Marshal(inputs)
}
