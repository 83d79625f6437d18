package engine

import (
	"context"

	"github.com/weft-run/weft/pkg/schema"
)

// resolveInput materializes a declared step input against the current
// variables. Resolution is a pure read: literals pass through, variable
// references look up the binding (absent binds nil unless StrictVariables),
// expressions go through the configured evaluator.
func (e *Engine) resolveInput(ctx context.Context, in schema.StepInput, vars map[string]any) (any, error) {
	switch in.Kind() {
	case schema.InputLiteral:
		return in.Value(), nil

	case schema.InputVariable:
		v, ok := vars[in.VarName()]
		if !ok {
			if e.cfg.StrictVariables {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"variable %q is not bound", in.VarName())
			}
			return nil, nil
		}
		return v, nil

	case schema.InputExpression:
		return e.cfg.Evaluator.Evaluate(ctx, in.Text(), vars)

	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "step input is missing")
	}
}
