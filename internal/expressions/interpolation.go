package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbracero/fresco/pkg/schema"
)

// InterpolationScope holds all data available for template resolution.
type InterpolationScope struct {
	Nodes  map[string]map[string]any // node ID -> output handle -> value
	Inputs map[string]any            // caller-supplied run inputs
	Run    map[string]any            // run metadata (id, scope)
}

// Env flattens the scope into the environment map consumed by the
// expression engines.
func (s *InterpolationScope) Env() map[string]any {
	nodes := make(map[string]any, len(s.Nodes))
	for id, handles := range s.Nodes {
		nodes[id] = handles
	}
	env := map[string]any{
		"nodes": nodes,
		"run":   map[string]any{},
	}
	if s.Inputs != nil {
		env["inputs"] = s.Inputs
	} else {
		env["inputs"] = map[string]any{}
	}
	if s.Run != nil {
		env["run"] = s.Run
	}
	return env
}

// Interpolator resolves ${{...}} references inside template strings
// (text node templates, inference prompts).
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// HasInterpolation reports whether the string contains a ${{ marker.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}

// Resolve scans the template for ${{...}} tokens and replaces each with the
// referenced scope value. String values embed verbatim; everything else is
// embedded as compact JSON.
func (interp *Interpolator) Resolve(template string, scope *InterpolationScope) (string, error) {
	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(template[start:end])
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(marshalInline(val))

		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// resolveExpr resolves a single reference path like "nodes.summary.text".
func (interp *Interpolator) resolveExpr(expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "nodes":
		return interp.resolveNodes(expr, scope)
	case "inputs":
		return interp.resolveFromMap(scope.Inputs, expr, "inputs")
	case "run":
		return interp.resolveFromMap(scope.Run, expr, "run")
	default:
		available := []string{"nodes", "inputs", "run"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveNodes resolves nodes.<id>.<handle> references.
func (interp *Interpolator) resolveNodes(expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 3)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid node reference %q: expected nodes.<id>.<handle>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	nodeID, handle := parts[1], parts[2]

	handles, ok := scope.Nodes[nodeID]
	if !ok {
		known := make([]string, 0, len(scope.Nodes))
		for id := range scope.Nodes {
			known = append(known, id)
		}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"node %q not resolved in ${{%s}}; it must be an upstream dependency", nodeID, expr).
			WithDetails(map[string]any{"expression": expr, "resolved_nodes": known})
	}

	val, ok := handles[handle]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"node %q has no output handle %q in ${{%s}}", nodeID, handle, expr).
			WithDetails(map[string]any{"expression": expr})
	}
	return val, nil
}

// resolveFromMap resolves <namespace>.<key> references.
func (interp *Interpolator) resolveFromMap(data map[string]any, expr, namespace string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid reference %q: expected %s.<name>", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}
	val, ok := data[parts[1]]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown %s key %q in ${{%s}}", namespace, parts[1], expr).
			WithDetails(map[string]any{"expression": expr})
	}
	return val, nil
}

// marshalInline embeds a resolved value into the template.
func marshalInline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
