package recorder

import (
	"context"

	"github.com/mbracero/fresco/internal/streaming"
	"github.com/mbracero/fresco/pkg/schema"
)

// StreamRecorder publishes run lifecycle events to an EventHub for live
// subscribers. Publish drops events for slow subscribers, so this never
// blocks run execution.
type StreamRecorder struct {
	hub streaming.EventHub
}

// NewStreamRecorder builds a recorder publishing to the given hub.
func NewStreamRecorder(hub streaming.EventHub) *StreamRecorder {
	return &StreamRecorder{hub: hub}
}

func (r *StreamRecorder) OnRunStart(ctx context.Context, e RunStart) {
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		RunID:     e.RunID,
		EventType: schema.EventRunStarted,
		Payload:   streaming.RunStartedPayload{Scope: string(e.Scope), NodeCount: e.NodeCount},
	})
}

func (r *StreamRecorder) OnNodeStart(ctx context.Context, e NodeStart) {
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		RunID:     e.RunID,
		NodeID:    e.NodeID,
		EventType: schema.EventNodeStarted,
		Payload:   streaming.NodeStartedPayload{Kind: string(e.Kind), Level: e.Level},
	})
}

func (r *StreamRecorder) OnNodeFinish(ctx context.Context, e NodeFinish) {
	var eventType string
	var payload any
	switch e.Status {
	case schema.NodeStatusSucceeded:
		eventType = schema.EventNodeSucceeded
		payload = e.Outputs
	case schema.NodeStatusSkipped:
		eventType = schema.EventNodeSkipped
		payload = streaming.NodeSkippedPayload{Reason: e.Error}
	default:
		eventType = schema.EventNodeFailed
		payload = streaming.NodeFailedPayload{Error: e.Error}
	}
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		RunID:     e.RunID,
		NodeID:    e.NodeID,
		EventType: eventType,
		Payload:   payload,
	})
}

func (r *StreamRecorder) OnRunFinish(ctx context.Context, e RunFinish) {
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		RunID:     e.RunID,
		EventType: runFinishEventType(e.Status),
		Payload:   streaming.RunFinishedPayload{DurationMs: e.DurationMs},
	})
}
