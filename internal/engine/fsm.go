package engine

import (
	"github.com/mbracero/fresco/pkg/schema"
)

// validRunTransitions is the run lifecycle transition table. Terminal
// states have no outgoing transitions.
var validRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusNotStarted: {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning: {
		schema.RunStatusCompleted,
		schema.RunStatusPartial,
		schema.RunStatusFailed,
		schema.RunStatusCancelled,
	},
}

// validNodeTransitions is the per-node lifecycle transition table. Skips
// happen straight from pending when a dependency failed.
var validNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending: {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning: {schema.NodeStatusSucceeded, schema.NodeStatusFailed},
}

// ValidRunTransition reports whether a run may move from one status to
// another.
func ValidRunTransition(from, to schema.RunStatus) bool {
	for _, next := range validRunTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNodeTransition reports whether a node may move from one status to
// another.
func ValidNodeTransition(from, to schema.NodeStatus) bool {
	for _, next := range validNodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkRunTransition returns INVALID_TRANSITION for illegal run moves.
func checkRunTransition(runID string, from, to schema.RunStatus) error {
	if !ValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	return nil
}

// checkNodeTransition returns INVALID_TRANSITION for illegal node moves.
func checkNodeTransition(nodeID string, from, to schema.NodeStatus) error {
	if !ValidNodeTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).WithNode(nodeID)
	}
	return nil
}
