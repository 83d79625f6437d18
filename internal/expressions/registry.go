package expressions

import "github.com/weft-run/weft/pkg/schema"

// ByName constructs the evaluator matching a configured name.
// Recognized: template (default), cel, expr, jq.
func ByName(name string) (Evaluator, error) {
	switch name {
	case "", "template":
		return NewTemplate(), nil
	case "cel":
		return NewCEL()
	case "expr":
		return NewExpr(), nil
	case "jq":
		return NewJQ(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression evaluator %q; available: template, cel, expr, jq", name)
	}
}
