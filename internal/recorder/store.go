package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/pkg/schema"
)

// StoreRecorder persists run lifecycle events to the store: the append-only
// event log plus the run and node-result materialized views. Store failures
// are logged and swallowed so persistence problems never fail a run.
type StoreRecorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewStoreRecorder builds a recorder writing to the given store.
func NewStoreRecorder(s store.Store, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRecorder{store: s, logger: logger}
}

func (r *StoreRecorder) OnRunStart(ctx context.Context, e RunStart) {
	started := e.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	status := schema.RunStatusRunning
	err := r.store.UpdateRun(ctx, e.RunID, store.RunUpdate{
		Status:    &status,
		StartedAt: &started,
	})
	if isNotFound(err) {
		// Ad-hoc runs have no pre-created record.
		err = r.store.CreateRun(ctx, &store.RunRecord{
			ID:        e.RunID,
			Scope:     e.Scope,
			Status:    status,
			StartedAt: &started,
		})
	}
	if err != nil {
		r.logged(ctx, "update run", e.RunID, err)
	}
	r.append(ctx, &store.RunEvent{
		RunID:   e.RunID,
		Type:    schema.EventRunStarted,
		Payload: marshalPayload(map[string]any{"scope": e.Scope, "node_count": e.NodeCount}),
	})
}

func (r *StoreRecorder) OnNodeStart(ctx context.Context, e NodeStart) {
	now := time.Now().UTC()
	if err := r.store.UpsertNodeResult(ctx, &store.NodeResultRecord{
		RunID:     e.RunID,
		NodeID:    e.NodeID,
		Status:    schema.NodeStatusRunning,
		StartedAt: &now,
	}); err != nil {
		r.logged(ctx, "upsert node result", e.RunID, err)
	}
	r.append(ctx, &store.RunEvent{
		RunID:   e.RunID,
		NodeID:  e.NodeID,
		Type:    schema.EventNodeStarted,
		Payload: marshalPayload(map[string]any{"kind": e.Kind, "level": e.Level}),
	})
}

func (r *StoreRecorder) OnNodeFinish(ctx context.Context, e NodeFinish) {
	now := time.Now().UTC()
	rec := &store.NodeResultRecord{
		RunID:      e.RunID,
		NodeID:     e.NodeID,
		Status:     e.Status,
		FinishedAt: &now,
		DurationMs: e.DurationMs,
	}
	if e.DurationMs > 0 {
		started := now.Add(-time.Duration(e.DurationMs) * time.Millisecond)
		rec.StartedAt = &started
	}

	var eventType string
	var payload json.RawMessage
	switch e.Status {
	case schema.NodeStatusSucceeded:
		eventType = schema.EventNodeSucceeded
		if out, err := json.Marshal(e.Outputs); err == nil {
			rec.Outputs = out
			payload = out
		}
	case schema.NodeStatusSkipped:
		eventType = schema.EventNodeSkipped
		payload = marshalPayload(map[string]any{"reason": e.Error})
		rec.Error = payload
	default:
		eventType = schema.EventNodeFailed
		payload = marshalPayload(map[string]any{"error": e.Error})
		rec.Error = payload
	}

	if err := r.store.UpsertNodeResult(ctx, rec); err != nil {
		r.logged(ctx, "upsert node result", e.RunID, err)
	}
	r.append(ctx, &store.RunEvent{
		RunID:   e.RunID,
		NodeID:  e.NodeID,
		Type:    eventType,
		Payload: payload,
	})
}

func (r *StoreRecorder) OnRunFinish(ctx context.Context, e RunFinish) {
	now := time.Now().UTC()
	if err := r.store.UpdateRun(ctx, e.RunID, store.RunUpdate{
		Status:     &e.Status,
		FinishedAt: &now,
	}); err != nil {
		r.logged(ctx, "update run", e.RunID, err)
	}
	r.append(ctx, &store.RunEvent{
		RunID:   e.RunID,
		Type:    runFinishEventType(e.Status),
		Payload: marshalPayload(map[string]any{"duration_ms": e.DurationMs}),
	})
}

func (r *StoreRecorder) append(ctx context.Context, event *store.RunEvent) {
	if err := r.store.AppendRunEvent(ctx, event); err != nil {
		r.logged(ctx, "append run event", event.RunID, err)
	}
}

func (r *StoreRecorder) logged(ctx context.Context, op, runID string, err error) {
	r.logger.WarnContext(ctx, "run recorder store write failed",
		"op", op, "run_id", runID, "error", err)
}

func runFinishEventType(status schema.RunStatus) string {
	switch status {
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusPartial:
		return schema.EventRunPartial
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return schema.EventRunFailed
	}
}

func isNotFound(err error) bool {
	var ferr *schema.FrescoError
	return errors.As(err, &ferr) && ferr.Code == schema.ErrCodeNotFound
}

func marshalPayload(m map[string]any) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
