package store

import (
	"context"
	"fmt"

	"github.com/mbracero/fresco/pkg/schema"
)

// EventLog provides event-sourcing operations over a Store's run event log.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append appends an event; the store assigns the per-run sequence.
func (el *EventLog) Append(ctx context.Context, event *RunEvent) error {
	return el.store.AppendRunEvent(ctx, event)
}

// Events returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) Events(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	return el.store.GetRunEvents(ctx, runID, since)
}

// Replay replays all events for a run and returns the reconstructed per-node
// states. Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*NodeResultRecord, error) {
	events, err := el.store.GetRunEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*NodeResultRecord), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeResultRecord)

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		res, ok := states[e.NodeID]
		if !ok {
			res = &NodeResultRecord{
				RunID:  runID,
				NodeID: e.NodeID,
				Status: schema.NodeStatusPending,
			}
			states[e.NodeID] = res
		}

		switch e.Type {
		case schema.EventNodeStarted:
			res.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			res.StartedAt = &ts

		case schema.EventNodeSucceeded:
			res.Status = schema.NodeStatusSucceeded
			ts := e.Timestamp
			res.FinishedAt = &ts
			res.Outputs = e.Payload
			if res.StartedAt != nil {
				res.DurationMs = ts.Sub(*res.StartedAt).Milliseconds()
			}

		case schema.EventNodeFailed:
			res.Status = schema.NodeStatusFailed
			ts := e.Timestamp
			res.FinishedAt = &ts
			res.Error = e.Payload
			if res.StartedAt != nil {
				res.DurationMs = ts.Sub(*res.StartedAt).Milliseconds()
			}

		case schema.EventNodeSkipped:
			res.Status = schema.NodeStatusSkipped
			ts := e.Timestamp
			res.FinishedAt = &ts
			res.Error = e.Payload

		case schema.EventTaskRetryAttempt:
			res.Attempts++
		}
	}

	return states, nil
}
