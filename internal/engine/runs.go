package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbracero/fresco/pkg/schema"
)

// StartOptions shapes one run submission.
type StartOptions struct {
	// RunID pre-assigns the run's ID; empty means a fresh UUID.
	RunID     string
	Scope     schema.RunScope
	Selection []string
	// Inputs are the run-level values visible to interpolation under the
	// inputs namespace.
	Inputs map[string]any
	// NodeInputs supply input handle values directly in single-node runs.
	NodeInputs map[string]schema.Value
}

// Manager owns the run registry: it compiles graphs, launches runs on
// detached goroutines, and answers status and cancel requests.
type Manager struct {
	mu         sync.RWMutex
	runs       map[string]*Run
	scheduler  *Scheduler
	logger     *slog.Logger
	runTimeout time.Duration
}

// NewManager creates a run manager over the given scheduler. A positive
// runTimeout caps each run's wall-clock time; zero disables the cap.
func NewManager(scheduler *Scheduler, logger *slog.Logger, runTimeout time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runs:       make(map[string]*Run),
		scheduler:  scheduler,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// StartRun compiles the graph and, when it validates, launches the run in
// the background and returns its ID. Compile errors surface synchronously
// and no run is registered.
func (m *Manager) StartRun(ctx context.Context, graph *schema.WorkflowGraph, opts StartOptions) (string, error) {
	provided := make([]string, 0, len(opts.NodeInputs))
	for name := range opts.NodeInputs {
		provided = append(provided, name)
	}

	plan, err := Compile(graph, CompileOptions{
		Scope:          opts.Scope,
		Selection:      opts.Selection,
		ProvidedInputs: provided,
	})
	if err != nil {
		return "", err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	run := newRun(runID, plan, opts.Inputs, opts.NodeInputs)

	m.mu.Lock()
	m.runs[runID] = run
	m.mu.Unlock()

	// The run outlives the submitting request; only the run timeout can
	// end it from the outside.
	runCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if m.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, m.runTimeout)
	}
	go func() {
		defer cancel()
		m.scheduler.Execute(runCtx, run)
	}()

	return runID, nil
}

// Status returns a snapshot of the run.
func (m *Manager) Status(runID string) (*RunResult, error) {
	run, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return run.Result(), nil
}

// Cancel asks the run to stop starting new nodes. Cancelling an already
// terminal run is a no-op.
func (m *Manager) Cancel(runID string) error {
	run, err := m.get(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Wait blocks until the run reaches a terminal state or the context ends.
func (m *Manager) Wait(ctx context.Context, runID string) (*RunResult, error) {
	run, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done():
		return run.Result(), nil
	case <-ctx.Done():
		return nil, Classify(ctx.Err())
	}
}

// List snapshots every known run.
func (m *Manager) List() []*RunResult {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	results := make([]*RunResult, 0, len(runs))
	for _, r := range runs {
		results = append(results, r.Result())
	}
	return results
}

func (m *Manager) get(runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", runID)
	}
	return run, nil
}
