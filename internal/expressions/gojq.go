package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/weft-run/weft/pkg/schema"
)

// JQ implements the Evaluator interface using gojq. The variable bindings
// map is the input document, so transforms read like
// `.items | map(.price) | add`.
// Thread-safe: compiled *gojq.Code objects are cached and reused.
type JQ struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQ creates a jq evaluator.
func NewJQ() *JQ {
	return &JQ{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the evaluator identifier.
func (e *JQ) Name() string {
	return "jq"
}

// Evaluate compiles (or retrieves from cache) a jq program and runs it with
// the variable bindings as input. jq programs can produce multiple outputs:
// one output is returned directly, several are collected into a slice.
func (e *JQ) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	input := normalize(vars)
	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
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
func (e *JQ) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalize converts Go values into the set gojq accepts: numbers widen to
// float64, nested maps and slices are rebuilt.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// NormalizeInput widens a document to jq-compatible types. Exposed for
// callers that run gojq directly against user-provided data.
func NormalizeInput(v any) any {
	return normalize(v)
}

var _ Evaluator = (*JQ)(nil)
