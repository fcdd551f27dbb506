package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows (saved graphs)
	SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Runs
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// Node results (materialized view)
	UpsertNodeResult(ctx context.Context, res *NodeResultRecord) error
	GetNodeResult(ctx context.Context, runID, nodeID string) (*NodeResultRecord, error)
	ListNodeResults(ctx context.Context, runID string) ([]*NodeResultRecord, error)

	// Run events (append-only)
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Secrets (opaque encrypted blobs)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
