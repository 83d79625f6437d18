package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/weft-run/weft/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for workflow definitions on the
// wire. Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://weft.run/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "timeout": {"$ref": "#/$defs/duration"},
    "steps": {"$ref": "#/$defs/steps"}
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/step"}
    },
    "step": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {
          "type": "string",
          "enum": ["agent", "tool", "conditional", "parallel", "loop", "human_in_the_loop", "rag", "transform"]
        }
      },
      "allOf": [
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "agent"}}},
          "then": {
            "required": ["input"],
            "properties": {
              "id": true, "type": true,
              "input": {"$ref": "#/$defs/stepInput"},
              "output": {"type": "string", "minLength": 1}
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "tool"}}},
          "then": {
            "required": ["toolName", "input"],
            "properties": {
              "id": true, "type": true,
              "toolName": {"type": "string", "minLength": 1},
              "input": {"$ref": "#/$defs/stepInput"},
              "output": {"type": "string", "minLength": 1}
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "conditional"}}},
          "then": {
            "required": ["condition", "then"],
            "properties": {
              "id": true, "type": true,
              "condition": {"type": "string", "minLength": 1},
              "then": {"$ref": "#/$defs/steps"},
              "else": {"$ref": "#/$defs/steps"}
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "parallel"}}},
          "then": {
            "required": ["branches"],
            "properties": {
              "id": true, "type": true,
              "branches": {
                "type": "array",
                "minItems": 1,
                "items": {"$ref": "#/$defs/steps"}
              }
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "loop"}}},
          "then": {
            "required": ["collection", "itemVariable", "steps"],
            "properties": {
              "id": true, "type": true,
              "collection": {"$ref": "#/$defs/stepInput"},
              "itemVariable": {"type": "string", "minLength": 1},
              "maxIterations": {"type": "integer", "minimum": 0},
              "steps": {"$ref": "#/$defs/steps"}
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "human_in_the_loop"}}},
          "then": {
            "required": ["prompt"],
            "properties": {
              "id": true, "type": true,
              "prompt": {"type": "string", "minLength": 1},
              "options": {
                "type": "array",
                "items": {"type": "string", "minLength": 1}
              }
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "rag"}}},
          "then": {
            "required": ["pipeline", "query"],
            "properties": {
              "id": true, "type": true,
              "pipeline": {"type": "string", "minLength": 1},
              "query": {"$ref": "#/$defs/stepInput"},
              "topK": {"type": "integer", "minimum": 0},
              "output": {"type": "string", "minLength": 1}
            },
            "additionalProperties": false
          }
        },
        {
          "if": {"required": ["type"], "properties": {"type": {"const": "transform"}}},
          "then": {
            "required": ["input", "expression"],
            "properties": {
              "id": true, "type": true,
              "input": {"$ref": "#/$defs/stepInput"},
              "expression": {"type": "string", "minLength": 1},
              "output": {"type": "string", "minLength": 1}
            },
            "additionalProperties": false
          }
        }
      ]
    },
    "stepInput": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "literal": true,
        "variable": {"type": "string", "minLength": 1},
        "expression": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    }
  }
}`

// Validator checks raw workflow definitions before they reach the engine:
// JSON Schema for shape (catching typos and missing fields with precise
// locations), typed decoding for the closed step set, then the semantic
// checks. Safe for concurrent use.
type Validator struct {
	workflowSchema *jsonschema.Schema
}

// NewValidator compiles the embedded workflow schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://weft.run/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://weft.run/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &Validator{workflowSchema: compiled}, nil
}

// ValidateDefinition validates a raw JSON workflow definition and returns
// the decoded workflow when it passes all three layers.
func (v *Validator) ValidateDefinition(raw json.RawMessage) (*schema.Workflow, error) {
	if len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is empty")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is not valid JSON").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return nil, toValidationError(err)
	}

	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		if werr, ok := schema.AsError(err); ok {
			return nil, werr
		}
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition failed to decode").WithCause(err)
	}

	if result := CheckWorkflow(&wf); !result.Valid() {
		return nil, result.ToError()
	}
	return &wf, nil
}

// ValidateWorkflow runs the semantic checks on an already-decoded workflow.
func (v *Validator) ValidateWorkflow(wf *schema.Workflow) error {
	return CheckWorkflow(wf).ToError()
}

// toValidationError converts a jsonschema.ValidationError into a typed
// error listing individual violations with their locations.
func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("definition failed validation with %d violations", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
