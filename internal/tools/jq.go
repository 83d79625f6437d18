package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/weft-run/weft/internal/expressions"
	"github.com/weft-run/weft/pkg/schema"
)

const jqQueryInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "input": {}
  },
  "required": ["query"]
}`

// JQTool implements the "jq.query" builtin: runs a jq program against a
// provided document. Unlike the jq expression evaluator, the document here
// can be any JSON value, not just the variables map.
type JQTool struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQTool creates the jq.query tool.
func NewJQTool() *JQTool {
	return &JQTool{cache: make(map[string]*gojq.Code)}
}

func (t *JQTool) Name() string { return "jq.query" }

func (t *JQTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Run a jq program against a document. Multiple outputs are collected into an array.",
		Input:       json.RawMessage(jqQueryInputSchema),
	}
}

func (t *JQTool) Execute(ctx context.Context, input any) (any, error) {
	params, err := objectInput("jq.query", input)
	if err != nil {
		return nil, err
	}
	query := stringParam(params, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq.query: missing required param 'query'")
	}

	code, err := t.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	doc := expressions.NormalizeInput(params["input"])
	iter := code.RunWithContext(ctx, doc)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq.query: evaluation failed: %s", err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"query": query})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (t *JQTool) getOrCompile(query string) (*gojq.Code, error) {
	t.mu.RLock()
	if code, ok := t.cache[query]; ok {
		t.mu.RUnlock()
		return code, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if code, ok := t.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq.query: parse error in %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed,
		// Sandbox: no environment access from workflow-supplied programs.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq.query: compile error in %q: %s", query, err.Error()).WithCause(err)
	}

	t.cache[query] = code
	return code, nil
}

var _ Tool = (*JQTool)(nil)
