package expressions

import "context"

// Engine evaluates expressions against a resolution scope.
// Three implementations: Expr (logic), CEL (guarded transforms), GoJQ (JSON reshaping).
// Text nodes pick an engine by name in their config.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
