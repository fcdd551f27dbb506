package engine

import (
	"context"

	"github.com/mbracero/fresco/internal/expressions"
	"github.com/mbracero/fresco/pkg/schema"
)

// executeText resolves the node's template against upstream outputs and run
// inputs, then optionally post-processes the scope through an expression
// engine. An empty template with a connected input passes the input through.
func (x *Executors) executeText(ctx context.Context, node *schema.Node, cfg *schema.TextConfig, in Inputs, scope *expressions.InterpolationScope) (schema.Outputs, error) {
	var text string
	switch {
	case cfg.Template != "":
		resolved, err := x.interp.Resolve(cfg.Template, scope)
		if err != nil {
			return nil, Classify(err).WithNode(node.ID)
		}
		text = resolved
	default:
		if v, ok := in[schema.HandleInput]; ok {
			text = v.Text
		}
	}

	if cfg.Expression != "" {
		name := cfg.Engine
		if name == "" {
			name = "expr"
		}
		engine, ok := x.engines[name]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "text node %s references unknown engine %q", node.ID, name).WithNode(node.ID)
		}
		env := scope.Env()
		env["value"] = text
		result, err := engine.Evaluate(ctx, cfg.Expression, env)
		if err != nil {
			return nil, Classify(err).WithNode(node.ID)
		}
		text = stringify(result)
	}

	return schema.Outputs{schema.HandleText: schema.TextValue(text)}, nil
}
