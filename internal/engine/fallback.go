package engine

import (
	"context"
	"log/slog"

	"github.com/mbracero/fresco/pkg/schema"
)

// Strategy is one way of producing a value, tried in order by a
// FallbackChain.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) (schema.Value, error)
}

// FallbackChain tries strategies in order and returns the first success.
// Every failed strategy is logged; when all fail, the last error surfaces.
type FallbackChain struct {
	logger     *slog.Logger
	strategies []Strategy
}

// NewFallbackChain builds a chain over the given strategies.
func NewFallbackChain(logger *slog.Logger, strategies ...Strategy) *FallbackChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackChain{logger: logger, strategies: strategies}
}

// Execute runs the chain. Cancellation between strategies is respected.
func (c *FallbackChain) Execute(ctx context.Context) (schema.Value, error) {
	if len(c.strategies) == 0 {
		return schema.Value{}, schema.NewError(schema.ErrCodeExecution, "fallback chain has no strategies")
	}

	var lastErr error
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return schema.Value{}, Classify(err)
		}

		v, err := s.Run(ctx)
		if err == nil {
			if i > 0 {
				c.logger.InfoContext(ctx, "fallback strategy succeeded",
					slog.String("strategy", s.Name),
					slog.Int("position", i))
			}
			return v, nil
		}

		lastErr = err
		c.logger.WarnContext(ctx, schema.EventFallbackAttempt,
			slog.String("strategy", s.Name),
			slog.Int("position", i),
			slog.Int("remaining", len(c.strategies)-i-1),
			slog.String("error", err.Error()))
	}

	return schema.Value{}, Classify(lastErr)
}
