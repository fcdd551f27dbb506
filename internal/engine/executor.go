package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mbracero/fresco/internal/expressions"
	"github.com/mbracero/fresco/pkg/schema"
)

// Inputs maps a node's input handles to their resolved upstream values.
type Inputs map[string]schema.Value

// Executors turns one node plus its resolved inputs into outputs. It holds
// the shared machinery every node kinds needs: the task dispatcher,
// template interpolation, the expression engines, and the inference
// credential list.
type Executors struct {
	dispatcher  *Dispatcher
	interp      *expressions.Interpolator
	engines     map[string]expressions.Engine
	credentials []string
	logger      *slog.Logger
}

// NewExecutors builds the executor set. Credentials are tried in order by
// inference nodes when quota failures occur.
func NewExecutors(dispatcher *Dispatcher, logger *slog.Logger, credentials []string) (*Executors, error) {
	if logger == nil {
		logger = slog.Default()
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	exprEngine := expressions.NewExprEngine()
	jqEngine := expressions.NewGoJQEngine()
	return &Executors{
		dispatcher: dispatcher,
		interp:     expressions.NewInterpolator(),
		engines: map[string]expressions.Engine{
			exprEngine.Name(): exprEngine,
			celEngine.Name():  celEngine,
			jqEngine.Name():   jqEngine,
		},
		credentials: credentials,
		logger:      logger,
	}, nil
}

// Execute runs one node. The switch is exhaustive over NodeKind; an
// unknown kind can only mean a compiler bug.
func (x *Executors) Execute(ctx context.Context, node *schema.Node, cfg any, in Inputs, scope *expressions.InterpolationScope) (schema.Outputs, error) {
	switch node.Kind {
	case schema.KindText:
		return x.executeText(ctx, node, cfg.(*schema.TextConfig), in, scope)
	case schema.KindMedia:
		return x.executeMedia(ctx, node, cfg.(*schema.MediaConfig))
	case schema.KindInference:
		return x.executeInference(ctx, node, cfg.(*schema.InferenceConfig), in, scope)
	case schema.KindCrop:
		return x.executeCrop(ctx, node, cfg.(*schema.CropConfig), in)
	case schema.KindFrames:
		return x.executeFrames(ctx, node, cfg.(*schema.FramesConfig), in)
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution, "no executor for node kind %q", node.Kind).WithNode(node.ID)
}

// stringify renders an expression result for a text output: strings pass
// through, everything else becomes compact JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
