package streaming

import "context"

// StreamEvent is a real-time event emitted during run execution.
type StreamEvent struct {
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// Typed payloads for the run lifecycle events. Keeping them as structs
// pins the wire shape that SSE clients consume.
type (
	// RunStartedPayload accompanies run_started events.
	RunStartedPayload struct {
		Scope     string `json:"scope"`
		NodeCount int    `json:"node_count"`
	}

	// NodeStartedPayload accompanies node_started events.
	NodeStartedPayload struct {
		Kind  string `json:"kind"`
		Level int    `json:"level"`
	}

	// NodeSkippedPayload accompanies node_skipped events.
	NodeSkippedPayload struct {
		Reason string `json:"reason"`
	}

	// NodeFailedPayload accompanies node_failed events.
	NodeFailedPayload struct {
		Error string `json:"error"`
	}

	// RunFinishedPayload accompanies the terminal run events.
	RunFinishedPayload struct {
		DurationMs int64 `json:"duration_ms"`
	}
)

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
