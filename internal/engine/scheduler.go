package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbracero/fresco/internal/expressions"
	"github.com/mbracero/fresco/internal/logging"
	"github.com/mbracero/fresco/internal/recorder"
	"github.com/mbracero/fresco/pkg/schema"
)

// NodeState is the mutable per-node execution record of a run.
type NodeState struct {
	Status     schema.NodeStatus
	Outputs    schema.Outputs
	Error      string
	StartedAt  time.Time
	DurationMs int64
}

// Run is one in-flight or finished execution of a compiled plan. All state
// mutations go through the methods below so the transition tables are
// enforced in one place.
type Run struct {
	ID    string
	Scope schema.RunScope

	plan       *ExecutionPlan
	nodeInputs map[string]schema.Value // single-scope caller-supplied handles

	mu          sync.Mutex
	status      schema.RunStatus
	nodes       map[string]*NodeState
	ec          *ExecutionContext
	startedAt   time.Time
	completedAt time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
	doneCh     chan struct{}
}

func newRun(id string, plan *ExecutionPlan, runInputs map[string]any, nodeInputs map[string]schema.Value) *Run {
	nodes := make(map[string]*NodeState, len(plan.Nodes))
	for nodeID := range plan.Nodes {
		nodes[nodeID] = &NodeState{Status: schema.NodeStatusPending}
	}
	return &Run{
		ID:         id,
		Scope:      plan.Scope,
		plan:       plan,
		nodeInputs: nodeInputs,
		status:     schema.RunStatusNotStarted,
		nodes:      nodes,
		ec:         NewExecutionContext(runInputs),
		cancelCh:   make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Cancel asks the run to stop starting new nodes. In-flight nodes get a
// best-effort backend cancel but are allowed to finish or time out.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *Run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.doneCh }

func (r *Run) setStatus(to schema.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := checkRunTransition(r.ID, r.status, to); err != nil {
		return err
	}
	r.status = to
	return nil
}

func (r *Run) transitionNode(nodeID string, to schema.NodeStatus, mutate func(*NodeState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.nodes[nodeID]
	if err := checkNodeTransition(nodeID, st.Status, to); err != nil {
		return err
	}
	st.Status = to
	if mutate != nil {
		mutate(st)
	}
	return nil
}

func (r *Run) nodeStatus(nodeID string) schema.NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[nodeID].Status
}

// NodeResult is an immutable snapshot of one node's state.
type NodeResult struct {
	NodeID     string            `json:"node_id"`
	Status     schema.NodeStatus `json:"status"`
	Outputs    schema.Outputs    `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// RunResult is an immutable snapshot of a run.
type RunResult struct {
	RunID       string                `json:"run_id"`
	Scope       schema.RunScope       `json:"scope"`
	Status      schema.RunStatus      `json:"status"`
	Nodes       map[string]NodeResult `json:"nodes"`
	StartedAt   time.Time             `json:"started_at,omitzero"`
	CompletedAt time.Time             `json:"completed_at,omitzero"`
	DurationMs  int64                 `json:"duration_ms,omitempty"`
}

// Result snapshots the run's current state.
func (r *Run) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make(map[string]NodeResult, len(r.nodes))
	for id, st := range r.nodes {
		nodes[id] = NodeResult{
			NodeID:     id,
			Status:     st.Status,
			Outputs:    st.Outputs,
			Error:      st.Error,
			DurationMs: st.DurationMs,
		}
	}
	res := &RunResult{
		RunID:       r.ID,
		Scope:       r.Scope,
		Status:      r.status,
		Nodes:       nodes,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
	}
	if !r.startedAt.IsZero() && !r.completedAt.IsZero() {
		res.DurationMs = r.completedAt.Sub(r.startedAt).Milliseconds()
	}
	return res
}

// Scheduler walks a compiled plan level by level, running each level's
// nodes concurrently under the worker pool bound. A level only starts once
// the previous level has fully settled.
type Scheduler struct {
	executors   *Executors
	recorder    recorder.RunRecorder
	logger      *slog.Logger
	concurrency int
}

// NewScheduler builds a scheduler with the given run-wide concurrency bound.
func NewScheduler(executors *Executors, rec recorder.RunRecorder, logger *slog.Logger, concurrency int) *Scheduler {
	if rec == nil {
		rec = recorder.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{executors: executors, recorder: rec, logger: logger, concurrency: concurrency}
}

// Execute drives the run to a terminal state. It is called once per run,
// on its own goroutine, with a context independent of the submitting
// request.
func (s *Scheduler) Execute(ctx context.Context, run *Run) {
	ctx = logging.WithRunID(ctx, run.ID)
	ctx = WithCancelSignal(ctx, run.cancelCh)

	run.mu.Lock()
	run.startedAt = time.Now()
	run.mu.Unlock()

	if err := run.setStatus(schema.RunStatusRunning); err != nil {
		s.logger.ErrorContext(ctx, "run could not start", slog.String("error", err.Error()))
		return
	}
	s.recorder.OnRunStart(ctx, recorder.RunStart{
		RunID:     run.ID,
		Scope:     run.Scope,
		NodeCount: len(run.plan.Nodes),
		StartedAt: time.Now(),
	})

	pool := newNodePool(s.concurrency)

	for level, nodeIDs := range run.plan.Levels {
		if run.cancelled() {
			break
		}

		for _, nodeID := range nodeIDs {
			if run.cancelled() {
				break
			}

			if reason, skip := s.skipReason(run, nodeID); skip {
				s.markSkipped(ctx, run, nodeID, reason)
				continue
			}

			id := nodeID
			lvl := level
			if err := pool.Go(ctx, func(ctx context.Context) {
				s.runNode(ctx, run, id, lvl)
			}); err != nil {
				// The node never left pending, so it settles as skipped.
				s.markSkipped(ctx, run, id, "not started: "+err.Error())
			}
		}
		// Level gate: every node of this level settles before the next
		// level is considered.
		pool.Drain()
	}

	pool.Close()
	s.finish(ctx, run)
}

// skipReason reports whether the node must be skipped because a dependency
// did not succeed. Dependencies live in earlier levels, so their states are
// terminal by the time this runs.
func (s *Scheduler) skipReason(run *Run, nodeID string) (string, bool) {
	for _, dep := range run.plan.Deps[nodeID] {
		switch run.nodeStatus(dep) {
		case schema.NodeStatusFailed:
			return "dependency " + dep + " failed", true
		case schema.NodeStatusSkipped:
			return "dependency " + dep + " skipped", true
		}
	}
	return "", false
}

func (s *Scheduler) runNode(ctx context.Context, run *Run, nodeID string, level int) {
	ctx = logging.WithNodeID(ctx, nodeID)
	node := run.plan.Nodes[nodeID]

	start := time.Now()
	if err := run.transitionNode(nodeID, schema.NodeStatusRunning, func(st *NodeState) {
		st.StartedAt = start
	}); err != nil {
		s.logger.ErrorContext(ctx, "node could not start", slog.String("error", err.Error()))
		return
	}
	s.recorder.OnNodeStart(ctx, recorder.NodeStart{
		RunID:  run.ID,
		NodeID: nodeID,
		Kind:   node.Kind,
		Level:  level,
	})

	inputs := s.resolveInputs(run, nodeID)
	scope := s.buildScope(run, nodeID)

	outputs, err := s.executeNode(ctx, node, run.plan.Configs[nodeID], inputs, scope)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		s.markFailed(ctx, run, nodeID, Classify(err), duration)
		return
	}

	if err := run.ec.SetOutputs(nodeID, outputs); err != nil {
		s.markFailed(ctx, run, nodeID, Classify(err), duration)
		return
	}

	_ = run.transitionNode(nodeID, schema.NodeStatusSucceeded, func(st *NodeState) {
		st.Outputs = outputs
		st.DurationMs = duration
	})
	s.recorder.OnNodeFinish(ctx, recorder.NodeFinish{
		RunID:      run.ID,
		NodeID:     nodeID,
		Status:     schema.NodeStatusSucceeded,
		Outputs:    outputs,
		DurationMs: duration,
	})
}

// executeNode invokes the node's executor, turning a panic into a plain
// execution error so one bad node cannot take down the process.
func (s *Scheduler) executeNode(ctx context.Context, node *schema.Node, cfg any, inputs Inputs, scope *expressions.InterpolationScope) (outputs schema.Outputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "node %s panicked: %v", node.ID, r)
		}
	}()
	return s.executors.Execute(ctx, node, cfg, inputs, scope)
}

// resolveInputs maps each inbound edge's source output to the node's input
// handle. Single-node runs start from the caller-supplied handle values.
func (s *Scheduler) resolveInputs(run *Run, nodeID string) Inputs {
	inputs := make(Inputs)
	for name, v := range run.nodeInputs {
		inputs[name] = v
	}
	for _, e := range run.plan.InEdges[nodeID] {
		if out := run.ec.Outputs(e.Source); out != nil {
			if v, ok := out[e.SourceHandle]; ok {
				inputs[e.TargetHandle] = v
			}
		}
	}
	return inputs
}

// buildScope exposes the outputs of the node's direct dependencies, the
// run-level inputs, and run metadata to templates and expressions.
func (s *Scheduler) buildScope(run *Run, nodeID string) *expressions.InterpolationScope {
	nodes := make(map[string]map[string]any)
	for _, dep := range run.plan.Deps[nodeID] {
		out := run.ec.Outputs(dep)
		if out == nil {
			continue
		}
		handles := make(map[string]any, len(out))
		for name, v := range out {
			if v.Type == schema.TypeText {
				handles[name] = v.Text
			} else {
				handles[name] = v.MediaRef
			}
		}
		nodes[dep] = handles
	}
	return &expressions.InterpolationScope{
		Nodes:  nodes,
		Inputs: run.ec.Inputs(),
		Run: map[string]any{
			"id":    run.ID,
			"scope": string(run.Scope),
		},
	}
}

func (s *Scheduler) markSkipped(ctx context.Context, run *Run, nodeID, reason string) {
	_ = run.transitionNode(nodeID, schema.NodeStatusSkipped, func(st *NodeState) {
		st.Error = reason
	})
	s.recorder.OnNodeFinish(ctx, recorder.NodeFinish{
		RunID:  run.ID,
		NodeID: nodeID,
		Status: schema.NodeStatusSkipped,
		Error:  reason,
	})
}

func (s *Scheduler) markFailed(ctx context.Context, run *Run, nodeID string, fe *schema.FrescoError, durationMs int64) {
	_ = run.transitionNode(nodeID, schema.NodeStatusFailed, func(st *NodeState) {
		st.Error = fe.Error()
		st.DurationMs = durationMs
	})
	s.recorder.OnNodeFinish(ctx, recorder.NodeFinish{
		RunID:      run.ID,
		NodeID:     nodeID,
		Status:     schema.NodeStatusFailed,
		Error:      fe.Error(),
		DurationMs: durationMs,
	})
}

// finish computes the terminal run status. Completed means every node
// succeeded; Failed means no terminal node produced a result; anything in
// between is Partial. Cancellation wins regardless of node states.
func (s *Scheduler) finish(ctx context.Context, run *Run) {
	status := s.aggregate(run)

	run.mu.Lock()
	run.completedAt = time.Now()
	run.mu.Unlock()

	if err := run.setStatus(status); err != nil {
		s.logger.ErrorContext(ctx, "run could not finish", slog.String("error", err.Error()))
	}

	res := run.Result()
	s.recorder.OnRunFinish(ctx, recorder.RunFinish{
		RunID:      run.ID,
		Status:     status,
		DurationMs: res.DurationMs,
	})
	close(run.doneCh)
}

func (s *Scheduler) aggregate(run *Run) schema.RunStatus {
	if run.cancelled() {
		return schema.RunStatusCancelled
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	allSucceeded := true
	for _, st := range run.nodes {
		if st.Status != schema.NodeStatusSucceeded {
			allSucceeded = false
			break
		}
	}
	if allSucceeded {
		return schema.RunStatusCompleted
	}

	// Terminal nodes are the plan's sinks: nodes nothing else depends on.
	anySinkSucceeded := false
	for nodeID := range run.nodes {
		if len(run.plan.Dependents[nodeID]) > 0 {
			continue
		}
		if run.nodes[nodeID].Status == schema.NodeStatusSucceeded {
			anySinkSucceeded = true
			break
		}
	}
	if anySinkSucceeded {
		return schema.RunStatusPartial
	}
	return schema.RunStatusFailed
}
