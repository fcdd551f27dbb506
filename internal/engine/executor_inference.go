package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mbracero/fresco/internal/expressions"
	"github.com/mbracero/fresco/pkg/schema"
)

// executeInference assembles the ordered prompt segments from config and
// connected inputs, then dispatches the request. Quota failures trigger an
// immediate one-shot failover to the next configured credential before the
// generic retry ladder is consulted, so a single exhausted key never burns
// the whole attempt budget.
func (x *Executors) executeInference(ctx context.Context, node *schema.Node, cfg *schema.InferenceConfig, in Inputs, scope *expressions.InterpolationScope) (schema.Outputs, error) {
	segments, err := x.assembleSegments(node, cfg, in, scope)
	if err != nil {
		return nil, err
	}

	creds := x.credentials
	if len(creds) == 0 {
		creds = []string{""}
	}

	credIdx := 0
	for {
		spec := TaskSpec{
			Kind: TaskKindInference,
			Payload: mustMarshal(InferenceRequest{
				Model:       cfg.Model,
				Segments:    segments,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
				Credential:  creds[credIdx],
			}),
		}

		result, derr := x.dispatcher.DispatchOnce(ctx, spec)
		if derr == nil {
			return decodeInferenceResult(node.ID, result)
		}

		fe := Classify(derr)
		switch {
		case fe.Code == schema.ErrCodeQuota && credIdx+1 < len(creds):
			credIdx++
			x.logger.WarnContext(ctx, schema.EventCredentialSwap,
				slog.String("node_id", node.ID),
				slog.Int("credential_index", credIdx),
				slog.String("error", fe.Error()))

		case fe.IsRetryable() && fe.Code != schema.ErrCodeCancelled:
			// Credentials exhausted or a non-quota transient failure:
			// hand the current credential to the retry ladder.
			result, derr = x.dispatcher.Dispatch(ctx, spec)
			if derr == nil {
				return decodeInferenceResult(node.ID, result)
			}
			return nil, Classify(derr).WithNode(node.ID)

		default:
			return nil, fe.WithNode(node.ID)
		}
	}
}

// assembleSegments builds the prompt in a fixed order: system text, config
// prompt, connected prompt input, then media attachments.
func (x *Executors) assembleSegments(node *schema.Node, cfg *schema.InferenceConfig, in Inputs, scope *expressions.InterpolationScope) ([]PromptSegment, error) {
	var segments []PromptSegment

	if cfg.System != "" {
		text, err := x.interp.Resolve(cfg.System, scope)
		if err != nil {
			return nil, Classify(err).WithNode(node.ID)
		}
		segments = append(segments, PromptSegment{Role: "system", Text: text})
	}

	if cfg.Prompt != "" {
		text, err := x.interp.Resolve(cfg.Prompt, scope)
		if err != nil {
			return nil, Classify(err).WithNode(node.ID)
		}
		segments = append(segments, PromptSegment{Role: "user", Text: text})
	}

	if v, ok := in[schema.HandlePrompt]; ok && v.Text != "" {
		segments = append(segments, PromptSegment{Role: "user", Text: v.Text})
	}
	if v, ok := in[schema.HandleImage]; ok {
		segments = append(segments, PromptSegment{Role: "user", MediaRef: v.MediaRef, MediaType: string(v.Type)})
	}
	if v, ok := in[schema.HandleVideo]; ok {
		segments = append(segments, PromptSegment{Role: "user", MediaRef: v.MediaRef, MediaType: string(v.Type)})
	}

	if len(segments) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "inference node %s has no prompt content", node.ID).WithNode(node.ID)
	}
	return segments, nil
}

func decodeInferenceResult(nodeID string, raw json.RawMessage) (schema.Outputs, error) {
	var res InferenceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "inference node %s returned malformed result: %v", nodeID, err).WithNode(nodeID)
	}
	return schema.Outputs{schema.HandleText: schema.TextValue(res.Text)}, nil
}
