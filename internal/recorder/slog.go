package recorder

import (
	"context"
	"log/slog"

	"github.com/mbracero/fresco/internal/logging"
	"github.com/mbracero/fresco/pkg/schema"
)

// Slog logs every run event through the structured logger.
type Slog struct {
	logger *slog.Logger
}

// NewSlog builds a logging recorder.
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

func (s *Slog) OnRunStart(ctx context.Context, e RunStart) {
	ctx = logging.WithRunID(ctx, e.RunID)
	s.logger.InfoContext(ctx, schema.EventRunStarted,
		slog.String("scope", string(e.Scope)),
		slog.Int("node_count", e.NodeCount))
}

func (s *Slog) OnNodeStart(ctx context.Context, e NodeStart) {
	ctx = logging.WithNodeID(logging.WithRunID(ctx, e.RunID), e.NodeID)
	s.logger.InfoContext(ctx, schema.EventNodeStarted,
		slog.String("kind", string(e.Kind)),
		slog.Int("level", e.Level))
}

func (s *Slog) OnNodeFinish(ctx context.Context, e NodeFinish) {
	ctx = logging.WithNodeID(logging.WithRunID(ctx, e.RunID), e.NodeID)
	switch e.Status {
	case schema.NodeStatusSucceeded:
		s.logger.InfoContext(ctx, schema.EventNodeSucceeded,
			slog.Int64("duration_ms", e.DurationMs))
	case schema.NodeStatusSkipped:
		s.logger.InfoContext(ctx, schema.EventNodeSkipped,
			slog.String("reason", e.Error))
	default:
		s.logger.ErrorContext(ctx, schema.EventNodeFailed,
			slog.Int64("duration_ms", e.DurationMs),
			slog.String("error", e.Error))
	}
}

func (s *Slog) OnRunFinish(ctx context.Context, e RunFinish) {
	ctx = logging.WithRunID(ctx, e.RunID)
	event := schema.EventRunCompleted
	switch e.Status {
	case schema.RunStatusPartial:
		event = schema.EventRunPartial
	case schema.RunStatusFailed:
		event = schema.EventRunFailed
	case schema.RunStatusCancelled:
		event = schema.EventRunCancelled
	}
	s.logger.InfoContext(ctx, event,
		slog.String("status", string(e.Status)),
		slog.Int64("duration_ms", e.DurationMs))
}

var _ RunRecorder = (*Slog)(nil)
