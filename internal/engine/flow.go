package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/weft-run/weft/internal/expressions"
	"github.com/weft-run/weft/pkg/schema"
)

// runConditional evaluates the condition and runs the selected branch
// against the shared execution state: nested records land in the same
// history and nested outputs bind into the same variables.
func (w *walker) runConditional(ctx context.Context, s *schema.ConditionalStep) (any, error) {
	vars, err := w.vars(ctx)
	if err != nil {
		return nil, err
	}
	value, err := w.eng.cfg.Evaluator.Evaluate(ctx, s.Condition, vars)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"condition %q failed to evaluate", s.Condition).WithCause(err)
	}

	branch := "none"
	var body schema.StepList
	switch {
	case expressions.Truthy(value):
		branch, body = "then", s.Then
	case len(s.Else) > 0:
		branch, body = "else", s.Else
	}

	if err := w.runSteps(ctx, body); err != nil {
		return nil, err
	}
	return map[string]any{"condition": value, "branch": branch}, nil
}

// runParallel runs each branch concurrently against an isolated copy of
// the variables. The output is the ordered list of branch variable maps in
// declaration order regardless of completion order; branch writes never
// merge back into the parent. Branch walkers still gate on the parent
// execution's live status, so pause and cancel reach every branch.
func (w *walker) runParallel(ctx context.Context, s *schema.ParallelStep) (any, error) {
	base, err := w.vars(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, len(s.Branches))
	errs := make([]error, len(s.Branches))

	var wg sync.WaitGroup
	for i, branch := range s.Branches {
		wg.Add(1)
		go func(idx int, steps schema.StepList) {
			defer wg.Done()
			bw := &walker{
				eng:    w.eng,
				wf:     w.wf,
				execID: w.execID,
				branch: &branchState{vars: schema.CloneVariables(base)},
			}
			if bw.branch.vars == nil {
				bw.branch.vars = make(map[string]any)
			}
			errs[idx] = bw.runSteps(ctx, steps)
			results[idx] = bw.branch.vars
			w.publish(ctx, s.ID, schema.EventBranchCompleted, map[string]any{
				"branch": idx,
				"ok":     errs[idx] == nil,
			})
		}(i, branch)
	}
	wg.Wait()

	// A genuine branch failure outranks interruptions in the returned
	// error; the control status stays authoritative either way.
	var interrupted error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if isInterruption(err) {
			if interrupted == nil {
				interrupted = err
			}
			continue
		}
		return nil, err
	}
	if interrupted != nil {
		return nil, interrupted
	}

	out := make([]any, len(results))
	for i, branchVars := range results {
		out[i] = branchVars
	}
	return out, nil
}

// runLoop iterates the resolved collection, binding the item variable in
// the shared variables before each pass over the body. Iterations are
// capped by maxIterations when positive; the binding survives the loop
// like any other variable write.
func (w *walker) runLoop(ctx context.Context, s *schema.LoopStep, collection any) (any, error) {
	items, ok := toSlice(collection)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"loop collection must be a sequence, got %T", collection)
	}

	n := len(items)
	if s.MaxIterations > 0 && s.MaxIterations < n {
		n = s.MaxIterations
	}

	for i := 0; i < n; i++ {
		w.publish(ctx, s.ID, schema.EventLoopIteration, map[string]any{
			"iteration": i,
			"total":     n,
		})
		if err := w.bind(ctx, s.ItemVariable, items[i]); err != nil {
			return nil, err
		}
		if err := w.runSteps(ctx, s.Steps); err != nil {
			return nil, err
		}
	}
	return map[string]any{"iterations": n}, nil
}

// toSlice normalizes a resolved collection into []any. Values that are not
// already decoded JSON arrays go through a JSON round-trip, so typed
// slices from collaborators iterate too.
func toSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case nil:
		return nil, false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var out []any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, false
		}
		return out, true
	}
}
