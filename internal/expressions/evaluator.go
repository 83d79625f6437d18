package expressions

import "context"

// Evaluator evaluates an expression string against a snapshot of execution
// variables. The engine treats it as a swappable strategy: Template is the
// default, CEL/Expr/JQ are drop-in alternatives for hosts that need real
// arithmetic, comparison, or JSON reshaping.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}

// Truthy reports whether an evaluation result selects a conditional's then
// branch. nil and empty strings are falsy, numbers are falsy at zero,
// booleans are themselves; any other non-nil value (including empty maps
// and slices) is truthy.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case uint:
		return val != 0
	case uint64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
