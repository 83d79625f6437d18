package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/weft-run/weft/internal/logging"
	"github.com/weft-run/weft/pkg/schema"
)

// walker advances one control flow through a step list. The root walker
// runs against the store-backed execution; parallel branches get a walker
// with detached branch state, while status checks always consult the
// parent execution so control operations reach every branch.
type walker struct {
	eng    *Engine
	wf     *schema.Workflow
	execID string
	branch *branchState // nil for the root walker
}

// branchState is the private world of one parallel branch: an isolated
// variable map and a history that never reaches the parent execution.
type branchState struct {
	vars    map[string]any
	history []schema.StepRecord
}

func (b *branchState) close(stepID string, status schema.StepStatus, output any, errMsg string, retryCount int) {
	for i := len(b.history) - 1; i >= 0; i-- {
		rec := &b.history[i]
		if rec.StepID != stepID || rec.Status != schema.StepRunning {
			continue
		}
		now := time.Now().UTC()
		rec.Status = status
		rec.EndTime = &now
		rec.Output = output
		rec.Error = errMsg
		rec.RetryCount = retryCount
		return
	}
}

// runSteps dispatches steps in declaration order, fail fast. Before each
// step the execution status is re-read: cancelled skips the step and
// unwinds, paused unwinds without a record. The unwound error carries the
// matching code; the status itself was already set by the control
// operation and stays authoritative.
func (w *walker) runSteps(ctx context.Context, steps schema.StepList) error {
	for _, step := range steps {
		if err := w.gate(ctx, step); err != nil {
			return err
		}
		if err := w.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) gate(ctx context.Context, step schema.Step) error {
	status, err := w.eng.store.Status(ctx, w.execID)
	if err != nil {
		return err
	}
	switch status {
	case schema.StatusCancelled:
		now := time.Now().UTC()
		_ = w.appendRecord(ctx, schema.StepRecord{
			StepID:    step.StepID(),
			StepType:  step.Kind(),
			Status:    schema.StepSkipped,
			StartTime: now,
			EndTime:   &now,
		})
		w.publish(ctx, step.StepID(), schema.EventStepSkipped, map[string]any{
			"stepType": string(step.Kind()),
		})
		return schema.NewError(schema.ErrCodeCancelled, "execution was cancelled").
			WithStep(step.StepID())
	case schema.StatusPaused:
		return schema.NewError(schema.ErrCodePaused, "execution was paused").
			WithStep(step.StepID())
	}

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return schema.NewError(schema.ErrCodeTimeout, "workflow timeout exceeded").WithCause(err)
		}
		return schema.NewError(schema.ErrCodeExecution, "execution context cancelled").WithCause(err)
	}
	return nil
}

// runStep owns the record lifecycle of one step: resolve input, append a
// running record, execute, then close the record as completed or failed.
// Declared outputs are bound into the variables after completion.
func (w *walker) runStep(ctx context.Context, step schema.Step) error {
	stepID := step.StepID()
	ctx = logging.WithStepID(ctx, stepID)
	logger := logging.LogWith(ctx, w.eng.cfg.Logger)

	if w.branch == nil {
		if err := w.eng.store.SetCurrentStep(ctx, w.execID, stepID); err != nil {
			return err
		}
	}

	input, resolveErr := w.resolveFor(ctx, step)

	if err := w.appendRecord(ctx, schema.StepRecord{
		StepID:    stepID,
		StepType:  step.Kind(),
		Status:    schema.StepRunning,
		StartTime: time.Now().UTC(),
		Input:     input,
	}); err != nil {
		return err
	}
	w.publish(ctx, stepID, schema.EventStepStarted, map[string]any{
		"stepType": string(step.Kind()),
		"input":    input,
	})
	logger.DebugContext(ctx, "step started", "type", string(step.Kind()))

	var output any
	execErr := resolveErr
	if execErr == nil {
		output, execErr = w.execute(ctx, step, input)
	}
	if execErr != nil {
		return w.failStep(ctx, stepID, execErr, logger)
	}

	if err := w.completeRecord(ctx, stepID, output); err != nil {
		return err
	}
	w.publish(ctx, stepID, schema.EventStepCompleted, map[string]any{"output": output})
	logger.DebugContext(ctx, "step completed")

	if name := outputName(step); name != "" {
		if err := w.bind(ctx, name, output); err != nil {
			return err
		}
	}
	return nil
}

// failStep closes the failing step's record and wraps the cause as a
// STEP_FAILED error. Interruptions from nested steps pass through
// untouched: the composite's record stays running and the control status
// remains the source of truth.
func (w *walker) failStep(ctx context.Context, stepID string, cause error, logger *slog.Logger) error {
	if isInterruption(cause) {
		return cause
	}

	retries := retryCountFrom(cause)
	if err := w.failRecord(ctx, stepID, cause.Error(), retries); err != nil {
		logger.ErrorContext(ctx, "step record not closed", "error", err)
	}
	w.publish(ctx, stepID, schema.EventStepFailed, map[string]any{
		"error":      cause.Error(),
		"retryCount": retries,
	})
	logger.ErrorContext(ctx, "step failed", "error", cause)

	if schema.IsCode(cause, schema.ErrCodeStepFailed) {
		// A nested step already wrapped itself; keep the deepest frame.
		return cause
	}
	msg := cause.Error()
	if werr, ok := schema.AsError(cause); ok {
		msg = werr.Message
	}
	return schema.NewError(schema.ErrCodeStepFailed, msg).WithStep(stepID).WithCause(cause)
}

// resolveFor resolves the declared input of kinds that have one; other
// kinds resolve to nil without touching the evaluator.
func (w *walker) resolveFor(ctx context.Context, step schema.Step) (any, error) {
	var in schema.StepInput
	switch s := step.(type) {
	case *schema.AgentStep:
		in = s.Input
	case *schema.ToolStep:
		in = s.Input
	case *schema.LoopStep:
		in = s.Collection
	case *schema.RAGStep:
		in = s.Query
	case *schema.TransformStep:
		in = s.Input
	default:
		return nil, nil
	}
	vars, err := w.vars(ctx)
	if err != nil {
		return nil, err
	}
	return w.eng.resolveInput(ctx, in, vars)
}

// execute dispatches over the closed step set. Unknown kinds cannot reach
// here: decoding rejects them before validation ever passes.
func (w *walker) execute(ctx context.Context, step schema.Step, input any) (any, error) {
	switch s := step.(type) {
	case *schema.AgentStep:
		return w.runAgent(ctx, s, input)
	case *schema.ToolStep:
		return w.runTool(ctx, s, input)
	case *schema.ConditionalStep:
		return w.runConditional(ctx, s)
	case *schema.ParallelStep:
		return w.runParallel(ctx, s)
	case *schema.LoopStep:
		return w.runLoop(ctx, s, input)
	case *schema.HumanStep:
		return w.runHuman(ctx, s)
	case *schema.RAGStep:
		return w.runRAG(ctx, s, input)
	case *schema.TransformStep:
		return w.runTransform(ctx, s, input)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown step kind %q", step.Kind())
	}
}

// vars returns a private snapshot of the current variables. Callers may
// mutate the returned map freely; writes go through bind.
func (w *walker) vars(ctx context.Context) (map[string]any, error) {
	if w.branch != nil {
		vars := schema.CloneVariables(w.branch.vars)
		if vars == nil {
			vars = make(map[string]any)
		}
		return vars, nil
	}
	exec, err := w.eng.store.Get(ctx, w.execID)
	if err != nil {
		return nil, err
	}
	if exec.Variables == nil {
		return make(map[string]any), nil
	}
	return exec.Variables, nil
}

func (w *walker) bind(ctx context.Context, name string, value any) error {
	if w.branch != nil {
		w.branch.vars[name] = value
		return nil
	}
	return w.eng.store.BindVariable(ctx, w.execID, name, value)
}

func (w *walker) appendRecord(ctx context.Context, rec schema.StepRecord) error {
	if w.branch != nil {
		w.branch.history = append(w.branch.history, rec)
		return nil
	}
	return w.eng.store.AppendRecord(ctx, w.execID, rec)
}

func (w *walker) completeRecord(ctx context.Context, stepID string, output any) error {
	if w.branch != nil {
		w.branch.close(stepID, schema.StepCompleted, output, "", 0)
		return nil
	}
	return w.eng.store.CompleteRecord(ctx, w.execID, stepID, output)
}

func (w *walker) failRecord(ctx context.Context, stepID, errMsg string, retryCount int) error {
	if w.branch != nil {
		w.branch.close(stepID, schema.StepFailed, nil, errMsg, retryCount)
		return nil
	}
	return w.eng.store.FailRecord(ctx, w.execID, stepID, errMsg, retryCount)
}

func outputName(step schema.Step) string {
	switch s := step.(type) {
	case *schema.AgentStep:
		return s.Output
	case *schema.ToolStep:
		return s.Output
	case *schema.RAGStep:
		return s.Output
	case *schema.TransformStep:
		return s.Output
	default:
		return ""
	}
}

func isInterruption(err error) bool {
	return schema.IsCode(err, schema.ErrCodePaused) || schema.IsCode(err, schema.ErrCodeCancelled)
}

// retryCountFrom extracts the retry count a tool error failed at, so the
// step record reflects what the retry wrapper actually attempted.
func retryCountFrom(err error) int {
	werr, ok := schema.AsError(err)
	if !ok || werr.Code != schema.ErrCodeRetryExhausted {
		return 0
	}
	switch v := werr.Details["retries"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
