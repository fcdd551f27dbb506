package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/mbracero/fresco/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error {
	graph, err := json.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("marshal workflow graph: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, graph, input_schema, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, graph=excluded.graph,
		   input_schema=excluded.input_schema, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.Description), string(graph),
		nullRaw(wf.InputSchema), timeOrNow(wf.CreatedAt), now,
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	wf := &WorkflowRecord{}
	var desc, inputSchema sql.NullString
	var graphJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, graph, input_schema, created_at, updated_at
		 FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &desc, &graphJSON, &inputSchema, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.Description = desc.String
	if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal workflow graph: %w", err)
	}
	wf.InputSchema = jsonOrNil(inputSchema)
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error) {
	query := `SELECT id, name, description, graph, input_schema, created_at, updated_at FROM workflows`
	var where []string
	var args []any
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*WorkflowRecord
	for rows.Next() {
		wf := &WorkflowRecord{}
		var desc, inputSchema sql.NullString
		var graphJSON string
		if err := rows.Scan(&wf.ID, &wf.Name, &desc, &graphJSON, &inputSchema, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Description = desc.String
		if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal workflow graph: %w", err)
		}
		wf.InputSchema = jsonOrNil(inputSchema)
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *RunRecord) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, scope, status, inputs, error, created_at, started_at, finished_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.WorkflowID), string(run.Scope), string(run.Status),
		nullRaw(run.Inputs), nullRaw(run.Error),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.FinishedAt), now,
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run := &RunRecord{}
	var workflowID, inputs, errJSON sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, scope, status, inputs, error, created_at, started_at, finished_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &workflowID, &run.Scope, &run.Status, &inputs, &errJSON,
		&run.CreatedAt, &startedAt, &finishedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.WorkflowID = workflowID.String
	run.Inputs = jsonOrNil(inputs)
	run.Error = jsonOrNil(errJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := `SELECT id, workflow_id, scope, status, inputs, error, created_at, started_at, finished_at, updated_at FROM runs`
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		var workflowID, inputs, errJSON sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &workflowID, &run.Scope, &run.Status, &inputs, &errJSON,
			&run.CreatedAt, &startedAt, &finishedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.WorkflowID = workflowID.String
		run.Inputs = jsonOrNil(inputs)
		run.Error = jsonOrNil(errJSON)
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Node Results ---

func (s *LibSQLStore) UpsertNodeResult(ctx context.Context, res *NodeResultRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_results (run_id, node_id, status, outputs, error, attempts, started_at, finished_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET
		   status=excluded.status, outputs=excluded.outputs, error=excluded.error,
		   attempts=excluded.attempts, started_at=excluded.started_at,
		   finished_at=excluded.finished_at, duration_ms=excluded.duration_ms`,
		res.RunID, res.NodeID, string(res.Status), nullRaw(res.Outputs), nullRaw(res.Error),
		res.Attempts, nullTime(res.StartedAt), nullTime(res.FinishedAt), res.DurationMs,
	)
	return err
}

func (s *LibSQLStore) GetNodeResult(ctx context.Context, runID, nodeID string) (*NodeResultRecord, error) {
	res := &NodeResultRecord{}
	var outputs, errJSON sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, node_id, status, outputs, error, attempts, started_at, finished_at, duration_ms
		 FROM node_results WHERE run_id = ? AND node_id = ?`, runID, nodeID,
	).Scan(&res.RunID, &res.NodeID, &res.Status, &outputs, &errJSON,
		&res.Attempts, &startedAt, &finishedAt, &res.DurationMs)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("node result", runID+"/"+nodeID)
	}
	if err != nil {
		return nil, err
	}
	res.Outputs = jsonOrNil(outputs)
	res.Error = jsonOrNil(errJSON)
	if startedAt.Valid {
		res.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		res.FinishedAt = &finishedAt.Time
	}
	return res, nil
}

func (s *LibSQLStore) ListNodeResults(ctx context.Context, runID string) ([]*NodeResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, status, outputs, error, attempts, started_at, finished_at, duration_ms
		 FROM node_results WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*NodeResultRecord
	for rows.Next() {
		res := &NodeResultRecord{}
		var outputs, errJSON sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&res.RunID, &res.NodeID, &res.Status, &outputs, &errJSON,
			&res.Attempts, &startedAt, &finishedAt, &res.DurationMs); err != nil {
			return nil, err
		}
		res.Outputs = jsonOrNil(outputs)
		res.Error = jsonOrNil(errJSON)
		if startedAt.Valid {
			res.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			res.FinishedAt = &finishedAt.Time
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// --- Run Events ---

// AppendRunEvent appends an event with a monotonically increasing per-run
// sequence. The sequence read and the insert share one transaction so
// concurrent appenders cannot interleave.
func (s *LibSQLStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction. Execute a
	// write-intent statement first to force write-lock acquisition.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run event: %w", err)
	}
	return nil
}

// GetRunEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

func scanRunEvents(rows *sql.Rows) ([]*RunEvent, error) {
	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = jsonOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, nullRaw(job.Inputs), job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus),
		timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var inputs, lastStatus sql.NullString
	var lastRunAt, nextRunAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &inputs, &job.Enabled,
		&lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, err
	}
	job.Inputs = jsonOrNil(inputs)
	job.LastRunStatus = lastStatus.String
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any
	if update.CronExpression != nil {
		sets = append(sets, "cron_expression = ?")
		args = append(args, *update.CronExpression)
	}
	if update.Inputs != nil {
		sets = append(sets, "inputs = ?")
		args = append(args, string(update.Inputs))
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != nil {
		sets = append(sets, "last_run_status = ?")
		args = append(args, *update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	query := `SELECT id, workflow_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs`
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		var inputs, lastStatus sql.NullString
		var lastRunAt, nextRunAt sql.NullTime
		if err := rows.Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &inputs, &job.Enabled,
			&lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Inputs = jsonOrNil(inputs)
		job.LastRunStatus = lastStatus.String
		if lastRunAt.Valid {
			job.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			job.NextRunAt = &nextRunAt.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FrescoError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
