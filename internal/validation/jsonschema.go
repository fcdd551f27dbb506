// Package validation checks workflow graphs and run inputs against JSON
// Schema before they reach the compiler, so structural garbage is rejected
// with field-level messages instead of surfacing mid-compile.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mbracero/fresco/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for WorkflowGraph validation.
// Embedded as a constant to avoid filesystem dependencies. Semantic rules
// the schema cannot express (handle compatibility, type propagation,
// acyclicity) belong to the compiler.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://fresco.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "kind": {
          "type": "string",
          "enum": ["text", "media", "inference", "crop", "frames"]
        },
        "config": {
          "type": "object"
        }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "kind": { "const": "media" } } },
          "then": {
            "required": ["config"],
            "properties": {
              "config": {
                "required": ["type", "ref"],
                "properties": {
                  "type": { "enum": ["image", "video"] },
                  "ref": { "type": "string", "minLength": 1 }
                }
              }
            }
          }
        },
        {
          "if": { "properties": { "kind": { "const": "crop" } } },
          "then": {
            "required": ["config"],
            "properties": {
              "config": {
                "properties": {
                  "x": { "type": "number", "minimum": 0, "maximum": 100 },
                  "y": { "type": "number", "minimum": 0, "maximum": 100 },
                  "w": { "type": "number", "minimum": 0, "maximum": 100 },
                  "h": { "type": "number", "minimum": 0, "maximum": 100 }
                }
              }
            }
          }
        },
        {
          "if": { "properties": { "kind": { "const": "frames" } } },
          "then": {
            "required": ["config"],
            "properties": {
              "config": {
                "properties": {
                  "seconds": { "type": "number", "minimum": 0 },
                  "percent": { "type": "number", "minimum": 0, "maximum": 100 }
                }
              }
            }
          }
        }
      ]
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "sourceHandle", "target", "targetHandle"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "targetHandle": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// Validator checks workflow graphs and run inputs before execution.
type Validator interface {
	ValidateGraph(graph *schema.WorkflowGraph) error
	ValidateInputs(inputs map[string]any, inputSchema []byte) error
}

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	graphSchema *jsonschema.Schema

	// mu guards the cache for dynamic input-schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the graph schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://fresco.dev/schemas/graph.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}

	compiled, err := c.Compile("https://fresco.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &JSONSchemaValidator{
		graphSchema: compiled,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateGraph validates a WorkflowGraph against the embedded schema.
func (v *JSONSchemaValidator) ValidateGraph(graph *schema.WorkflowGraph) error {
	if graph == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}

	doc, err := toJSONValue(graph)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow graph").WithCause(err)
	}

	if err := v.graphSchema.Validate(doc); err != nil {
		return toFrescoError(err)
	}
	return nil
}

// ValidateInputs validates run inputs against a caller-provided JSON
// Schema. An empty schema validates everything. Compiled schemas are cached
// by content.
func (v *JSONSchemaValidator) ValidateInputs(inputs map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(inputs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize inputs").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFrescoError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("fresco://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFrescoError folds a jsonschema.ValidationError into a ValidationResult
// so every leaf violation surfaces with its instance location.
func toFrescoError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	var res schema.ValidationResult
	collectIssues(&res, verr)
	if res.Valid() {
		res.Errorf("/", "%s", verr.Error())
	}
	return res.Err()
}

func collectIssues(res *schema.ValidationResult, verr *jsonschema.ValidationError) {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		res.Errorf(loc, "%s", verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		collectIssues(res, cause)
	}
}
