package tools

import (
	"context"
	"encoding/json"

	"github.com/weft-run/weft/pkg/schema"
)

// Tool is a named capability a workflow step can invoke. Implementations
// must be safe for concurrent use: the engine may run the same tool from
// parallel branches.
type Tool interface {
	// Name returns the unique tool identifier, e.g. "http.request".
	Name() string

	// Schema describes the tool for discovery and input validation.
	Schema() ToolSchema

	// Execute runs the tool with the resolved step input.
	Execute(ctx context.Context, input any) (any, error)
}

// ToolSchema describes a tool's contract. Input and Output are optional
// JSON Schema documents; when Input is present the registry validates
// every invocation against it before the tool runs.
type ToolSchema struct {
	Description string          `json:"description,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// Param helpers used by the builtin tools.

// objectInput coerces a tool input into a parameter map. Nil becomes an
// empty map so tools with all-optional params accept a bare invocation.
func objectInput(name string, input any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}
	m, ok := input.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: input must be an object, got %T", name, input)
	}
	return m, nil
}

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}
