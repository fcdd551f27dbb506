package store

import (
	"encoding/json"
	"time"

	"github.com/mbracero/fresco/pkg/schema"
)

// WorkflowRecord is a saved workflow graph, reusable across runs.
type WorkflowRecord struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Graph       schema.WorkflowGraph `json:"graph"`
	InputSchema json.RawMessage     `json:"input_schema,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// RunRecord is the persisted representation of a run.
type RunRecord struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	Scope      schema.RunScope  `json:"scope"`
	Status     schema.RunStatus `json:"status"`
	Inputs     json.RawMessage  `json:"inputs,omitempty"`
	Error      json.RawMessage  `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NodeResultRecord is the materialized view of a node's state within a run.
type NodeResultRecord struct {
	RunID      string            `json:"run_id"`
	NodeID     string            `json:"node_id"`
	Status     schema.NodeStatus `json:"status"`
	Outputs    json.RawMessage   `json:"outputs,omitempty"`
	Error      json.RawMessage   `json:"error,omitempty"`
	Attempts   int               `json:"attempts"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// RunEvent is an immutable entry in the append-only run event log.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered run of a saved workflow.
type ScheduledJob struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Inputs         json.RawMessage `json:"inputs,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing saved workflows.
type WorkflowFilter struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status     *schema.RunStatus `json:"status,omitempty"`
	Error      json.RawMessage   `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	WorkflowID  string `json:"workflow_id,omitempty"`
	EnabledOnly bool   `json:"enabled_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	CronExpression *string    `json:"cron_expression,omitempty"`
	Inputs         json.RawMessage `json:"inputs,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  *string    `json:"last_run_status,omitempty"`
}
