package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunPartial   = "run_partial"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventNodeStarted      = "node_started"
	EventNodeSucceeded    = "node_succeeded"
	EventNodeFailed       = "node_failed"
	EventNodeSkipped      = "node_skipped"
	EventTaskRetryAttempt = "task_retry_attempt"
	EventCredentialSwap   = "credential_swap"
	EventFallbackAttempt  = "fallback_attempt"
	EventCircuitOpen      = "circuit_open"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusPartial    RunStatus = "partial"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run status is terminal.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// NodeStatus represents the lifecycle state of a node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the node status is terminal.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}

// RunScope selects which subset of a graph a run executes.
type RunScope string

const (
	// ScopeFull executes the entire graph.
	ScopeFull RunScope = "full"
	// ScopeSelected executes a node set plus all transitive ancestors
	// needed to resolve its inputs.
	ScopeSelected RunScope = "selected"
	// ScopeSingle executes one node with caller-supplied inputs.
	ScopeSingle RunScope = "single"
)
