package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. Records are
// copied on write and read so callers never share memory with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]*WorkflowRecord
	runs        map[string]*RunRecord
	nodeResults map[string]map[string]*NodeResultRecord
	events      map[string][]*RunEvent
	jobs        map[string]*ScheduledJob
	secrets     map[string][]byte
	nextEventID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]*WorkflowRecord),
		runs:        make(map[string]*RunRecord),
		nodeResults: make(map[string]map[string]*NodeResultRecord),
		events:      make(map[string][]*RunEvent),
		jobs:        make(map[string]*ScheduledJob),
		secrets:     make(map[string][]byte),
	}
}

// Migrate is a no-op for the memory store.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Vacuum is a no-op for the memory store.
func (s *MemoryStore) Vacuum(ctx context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// --- Workflows ---

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wf
	if existing, ok := s.workflows[wf.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = timeOrNow(wf.CreatedAt)
	}
	cp.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*WorkflowRecord
	for _, wf := range s.workflows {
		if filter.Name != "" && wf.Name != filter.Name {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return applyWindow(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return storeNotFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// --- Runs ---

func (s *MemoryStore) CreateRun(ctx context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.CreatedAt = timeOrNow(run.CreatedAt)
	cp.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.FinishedAt != nil {
		run.FinishedAt = update.FinishedAt
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RunRecord
	for _, run := range s.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return applyWindow(out, filter.Offset, filter.Limit), nil
}

// --- Node Results ---

func (s *MemoryStore) UpsertNodeResult(ctx context.Context, res *NodeResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.nodeResults[res.RunID]
	if !ok {
		byNode = make(map[string]*NodeResultRecord)
		s.nodeResults[res.RunID] = byNode
	}
	cp := *res
	byNode[res.NodeID] = &cp
	return nil
}

func (s *MemoryStore) GetNodeResult(ctx context.Context, runID, nodeID string) (*NodeResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.nodeResults[runID][nodeID]
	if !ok {
		return nil, storeNotFound("node result", runID+"/"+nodeID)
	}
	cp := *res
	return &cp, nil
}

func (s *MemoryStore) ListNodeResults(ctx context.Context, runID string) ([]*NodeResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NodeResultRecord
	for _, res := range s.nodeResults[runID] {
		cp := *res
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// --- Run Events ---

func (s *MemoryStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	event.ID = s.nextEventID
	event.Sequence = int64(len(s.events[event.RunID])) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RunEvent
	for _, e := range s.events[runID] {
		if e.Sequence <= since {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// --- Scheduled Jobs ---

func (s *MemoryStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	cp.CreatedAt = timeOrNow(job.CreatedAt)
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storeNotFound("scheduled job", id)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storeNotFound("scheduled job", id)
	}
	if update.CronExpression != nil {
		job.CronExpression = *update.CronExpression
	}
	if update.Inputs != nil {
		job.Inputs = update.Inputs
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		job.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		job.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != nil {
		job.LastRunStatus = *update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduledJob
	for _, job := range s.jobs {
		if filter.WorkflowID != "" && job.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.EnabledOnly && !job.Enabled {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return storeNotFound("scheduled job", id)
	}
	delete(s.jobs, id)
	return nil
}

// --- Secrets ---

func (s *MemoryStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.secrets[key] = cp
	return nil
}

func (s *MemoryStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemoryStore) DeleteSecret(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func applyWindow[T any](in []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
