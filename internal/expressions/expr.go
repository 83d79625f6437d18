package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/weft-run/weft/pkg/schema"
)

// Expr implements the Evaluator interface using expr-lang/expr. Variable
// bindings become top-level identifiers, so expressions read like
// `count > 3 ? "many" : "few"`. It supports array operations (filter, map,
// any, all, sum), string operations, nil coalescing (??), and optional
// chaining (?.).
// Thread-safe: compiled *vm.Program objects are cached and reused.
type Expr struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExpr creates an expr-lang evaluator.
func NewExpr() *Expr {
	return &Expr{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the evaluator identifier.
func (e *Expr) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) an expression and runs it with
// the variable bindings as its environment.
func (e *Expr) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.getOrCompile(expression, vars)
	if err != nil {
		return nil, err
	}

	env := vars
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one. The vars map only seeds environment type inference; undefined
// variables are allowed so a cached program works across runs.
func (e *Expr) getOrCompile(expression string, vars map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	env := vars
	if env == nil {
		env = map[string]any{}
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Evaluator = (*Expr)(nil)
