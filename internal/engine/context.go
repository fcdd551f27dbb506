package engine

import (
	"context"
	"sync"

	"github.com/mbracero/fresco/pkg/schema"
)

type cancelSignalKey struct{}

// WithCancelSignal attaches a soft-cancel channel to the context. Closing
// the channel asks in-flight task awaits to issue a best-effort backend
// cancel without aborting the await itself.
func WithCancelSignal(ctx context.Context, ch <-chan struct{}) context.Context {
	return context.WithValue(ctx, cancelSignalKey{}, ch)
}

// CancelSignal returns the soft-cancel channel attached to the context, or
// nil when none is set. A nil channel never fires in a select.
func CancelSignal(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(cancelSignalKey{}).(<-chan struct{})
	return ch
}

// ExecutionContext accumulates per-node outputs during a run. Each node's
// outputs are written exactly once, when the node succeeds; a second write
// for the same node is a bug and fails with CONFLICT.
type ExecutionContext struct {
	mu      sync.RWMutex
	outputs map[string]schema.Outputs
	// inputs are the run-level caller inputs, readable by interpolation.
	inputs map[string]any
}

// NewExecutionContext creates an empty context carrying the run inputs.
func NewExecutionContext(inputs map[string]any) *ExecutionContext {
	return &ExecutionContext{
		outputs: make(map[string]schema.Outputs),
		inputs:  inputs,
	}
}

// SetOutputs records a node's outputs. Write-once per node.
func (ec *ExecutionContext) SetOutputs(nodeID string, out schema.Outputs) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, exists := ec.outputs[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "outputs for node %s already recorded", nodeID).WithNode(nodeID)
	}
	ec.outputs[nodeID] = out
	return nil
}

// Outputs returns a node's recorded outputs, or nil when the node has not
// produced any.
func (ec *ExecutionContext) Outputs(nodeID string) schema.Outputs {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.outputs[nodeID]
}

// Inputs returns the run-level caller inputs.
func (ec *ExecutionContext) Inputs() map[string]any {
	return ec.inputs
}

// Snapshot returns a copy of all recorded outputs, keyed by node ID.
func (ec *ExecutionContext) Snapshot() map[string]schema.Outputs {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	snap := make(map[string]schema.Outputs, len(ec.outputs))
	for id, out := range ec.outputs {
		snap[id] = out
	}
	return snap
}
