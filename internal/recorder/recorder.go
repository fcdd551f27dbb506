// Package recorder observes run lifecycle events. Implementations fan the
// events out to logs, the event store, and live streams.
package recorder

import (
	"context"
	"time"

	"github.com/mbracero/fresco/pkg/schema"
)

// RunStart describes a run entering execution.
type RunStart struct {
	RunID     string
	Scope     schema.RunScope
	NodeCount int
	StartedAt time.Time
}

// NodeStart describes a node entering execution.
type NodeStart struct {
	RunID  string
	NodeID string
	Kind   schema.NodeKind
	Level  int
}

// NodeFinish describes a node reaching a terminal state. Outputs is set
// only on success; Error only on failure.
type NodeFinish struct {
	RunID      string
	NodeID     string
	Status     schema.NodeStatus
	Outputs    schema.Outputs
	Error      string
	DurationMs int64
}

// RunFinish describes a run reaching a terminal state.
type RunFinish struct {
	RunID      string
	Status     schema.RunStatus
	DurationMs int64
}

// RunRecorder receives run lifecycle events. Implementations must be safe
// for concurrent use; node events for one level arrive concurrently.
type RunRecorder interface {
	OnRunStart(ctx context.Context, e RunStart)
	OnNodeStart(ctx context.Context, e NodeStart)
	OnNodeFinish(ctx context.Context, e NodeFinish)
	OnRunFinish(ctx context.Context, e RunFinish)
}

// Nop is a RunRecorder that discards everything.
type Nop struct{}

func (Nop) OnRunStart(context.Context, RunStart)     {}
func (Nop) OnNodeStart(context.Context, NodeStart)   {}
func (Nop) OnNodeFinish(context.Context, NodeFinish) {}
func (Nop) OnRunFinish(context.Context, RunFinish)   {}

// Multi fans each event out to every child recorder in order.
type Multi struct {
	recorders []RunRecorder
}

// NewMulti builds a fan-out recorder. Nil children are dropped.
func NewMulti(recorders ...RunRecorder) *Multi {
	kept := make([]RunRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &Multi{recorders: kept}
}

func (m *Multi) OnRunStart(ctx context.Context, e RunStart) {
	for _, r := range m.recorders {
		r.OnRunStart(ctx, e)
	}
}

func (m *Multi) OnNodeStart(ctx context.Context, e NodeStart) {
	for _, r := range m.recorders {
		r.OnNodeStart(ctx, e)
	}
}

func (m *Multi) OnNodeFinish(ctx context.Context, e NodeFinish) {
	for _, r := range m.recorders {
		r.OnNodeFinish(ctx, e)
	}
}

func (m *Multi) OnRunFinish(ctx context.Context, e RunFinish) {
	for _, r := range m.recorders {
		r.OnRunFinish(ctx, e)
	}
}
