package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Template is the default evaluator: it substitutes ${name} placeholders
// with the referenced variable's string rendering, then coerces the whole
// result ("true"/"false" to bool, numeric-looking strings to float64,
// anything else stays a string). It is a minimal templating pass, not an
// expression language; there is no arithmetic and no comparison.
//
// Placeholders naming an unbound variable are left untouched. Evaluation
// is total: it never returns an error.
type Template struct{}

// NewTemplate creates the default template evaluator.
func NewTemplate() *Template {
	return &Template{}
}

// Name returns the evaluator identifier.
func (t *Template) Name() string {
	return "template"
}

// Evaluate substitutes every ${name} occurrence bound in vars, then coerces
// the final string as a whole.
func (t *Template) Evaluate(_ context.Context, expression string, vars map[string]any) (any, error) {
	return Coerce(t.substitute(expression, vars)), nil
}

// substitute scans for ${...} tokens and replaces those whose name is bound.
// A single pass over the input: values inserted by one substitution are
// never re-scanned.
func (t *Template) substitute(input string, vars map[string]any) string {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 2 // skip "${"

		end := strings.Index(input[start:], "}")
		if end == -1 {
			// Unclosed token: keep the rest verbatim.
			result.WriteString(input[i+idx:])
			break
		}
		end += start

		name := input[start:end]
		if val, ok := vars[name]; ok {
			result.WriteString(Render(val))
		} else {
			result.WriteString(input[i+idx : end+1])
		}

		i = end + 1 // skip "}"
	}

	return result.String()
}

// Render converts a variable value into the string form used for
// substitution. Strings are embedded as-is, scalars via their canonical
// text, and composite values as inline JSON.
func Render(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64, float32, int, int32, int64, uint, uint64:
		return fmt.Sprintf("%v", v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Coerce applies the literal coercion rules to a substituted result:
// exact "true"/"false" become booleans, numeric-looking strings become
// float64, everything else stays a string.
func Coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if s == "" {
		return s
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

var _ Evaluator = (*Template)(nil)
