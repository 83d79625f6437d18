package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weft-run/weft/internal/expressions"
	"github.com/weft-run/weft/internal/logging"
	"github.com/weft-run/weft/internal/store"
	"github.com/weft-run/weft/internal/validation"
	"github.com/weft-run/weft/pkg/schema"
)

// Engine executes workflow definitions against an execution store. One
// logical control flow runs per execution; control operations (Pause,
// Resume, Cancel) flip status through the store's guarded transitions and
// the dispatcher observes them at step boundaries.
type Engine struct {
	store store.ExecutionStore
	cfg   Config
}

// New creates an Engine. Missing Evaluator and Logger fall back to the
// template evaluator and slog.Default.
func New(st store.ExecutionStore, cfg Config) *Engine {
	if cfg.Evaluator == nil {
		cfg.Evaluator = expressions.NewTemplate()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{store: st, cfg: cfg}
}

// Execute runs a workflow to a settled state: completed, failed, or
// interrupted. Once the execution is created a snapshot comes back even
// when the run errors; on interruption the error carries a PAUSED or
// CANCELLED code and the snapshot's status stays authoritative.
func (e *Engine) Execute(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.Execution, error) {
	exec, err := e.begin(ctx, wf, input)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, wf, exec)
}

// Start begins a run and returns its snapshot as soon as the execution is
// recorded as running. Dispatch continues in the background on a context
// detached from ctx; callers follow progress through Get, List, or the
// event sink.
func (e *Engine) Start(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.Execution, error) {
	exec, err := e.begin(ctx, wf, input)
	if err != nil {
		return nil, err
	}
	snapshot := exec.Clone()
	go func() {
		// Settle already records and logs the outcome.
		_, _ = e.run(context.WithoutCancel(ctx), wf, exec)
	}()
	return snapshot, nil
}

// begin validates the definition and records the new running execution.
func (e *Engine) begin(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.Execution, error) {
	if err := validation.CheckWorkflow(wf).ToError(); err != nil {
		return nil, err
	}

	vars := schema.CloneVariables(input)
	if vars == nil {
		vars = make(map[string]any)
	}

	exec := &schema.Execution{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     schema.StatusRunning,
		Variables:  vars,
		StartTime:  time.Now().UTC(),
	}
	if err := e.store.Create(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// run dispatches every step of an execution begin just created, then
// settles it.
func (e *Engine) run(ctx context.Context, wf *schema.Workflow, exec *schema.Execution) (*schema.Execution, error) {
	ctx = logging.WithIDs(ctx, exec.ID, wf.ID)
	logger := logging.LogWith(ctx, e.cfg.Logger)
	logger.InfoContext(ctx, "execution started", "steps", len(wf.Steps))

	e.publishSnapshot(ctx, schema.EventExecutionStarted, exec)

	runCtx := ctx
	if wf.Timeout != "" {
		// Validated in begin; ParseDuration cannot fail here.
		d, _ := time.ParseDuration(wf.Timeout)
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	w := &walker{eng: e, wf: wf, execID: exec.ID}
	runErr := w.runSteps(runCtx, wf.Steps)

	return e.settle(ctx, exec.ID, runErr, logger)
}

// settle moves the execution to its final status after dispatch unwinds
// and returns the last snapshot. Interruption errors never overwrite the
// status the control operation already set.
func (e *Engine) settle(ctx context.Context, id string, runErr error, logger *slog.Logger) (*schema.Execution, error) {
	switch {
	case runErr == nil:
		finishErr := e.store.Finish(ctx, id, schema.StatusCompleted, "")
		snapshot, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if finishErr != nil {
			// A control operation won the race; its status stands.
			logger.ErrorContext(ctx, "completed status not recorded", "error", finishErr)
			return snapshot, finishErr
		}
		logger.InfoContext(ctx, "execution completed", "steps_recorded", len(snapshot.StepHistory))
		e.publishSnapshot(ctx, schema.EventExecutionCompleted, snapshot)
		return snapshot, nil

	case isInterruption(runErr):
		// Status was already set by Pause or Cancel; just report.
		snapshot, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "execution interrupted", "status", string(snapshot.Status))
		return snapshot, runErr

	default:
		finishErr := e.store.Finish(ctx, id, schema.StatusFailed, runErr.Error())
		if finishErr != nil {
			logger.ErrorContext(ctx, "failed status not recorded", "error", finishErr)
		}
		snapshot, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		logger.ErrorContext(ctx, "execution failed", "error", runErr)
		if finishErr == nil {
			e.publishSnapshot(ctx, schema.EventExecutionFailed, snapshot)
		}
		return snapshot, runErr
	}
}

// Pause requests a cooperative pause: running -> paused. The in-flight
// step finishes; the dispatcher observes the status at the next boundary.
func (e *Engine) Pause(ctx context.Context, id string) error {
	if err := e.store.UpdateStatus(ctx, id, schema.StatusPaused); err != nil {
		return err
	}
	snapshot, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, id, snapshot.WorkflowID)
	logging.LogWith(ctx, e.cfg.Logger).InfoContext(ctx, "execution paused")
	e.publishSnapshot(ctx, schema.EventExecutionPaused, snapshot)
	return nil
}

// Resume transitions paused -> running and merges input over the
// execution's variables (input wins on collision). It only restores state;
// it does not itself continue dispatch.
func (e *Engine) Resume(ctx context.Context, id string, input map[string]any) (*schema.Execution, error) {
	if err := e.store.UpdateStatus(ctx, id, schema.StatusRunning); err != nil {
		return nil, err
	}
	if len(input) > 0 {
		if err := e.store.MergeVariables(ctx, id, input); err != nil {
			return nil, err
		}
	}
	snapshot, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, id, snapshot.WorkflowID)
	logging.LogWith(ctx, e.cfg.Logger).InfoContext(ctx, "execution resumed", "merged", len(input))
	e.publishSnapshot(ctx, schema.EventExecutionResumed, snapshot)
	return snapshot, nil
}

// Cancel transitions running|paused -> cancelled and stamps the end time.
// In-flight collaborator calls are not aborted; the dispatcher skips the
// next step and unwinds.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.store.Finish(ctx, id, schema.StatusCancelled, ""); err != nil {
		return err
	}
	snapshot, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, id, snapshot.WorkflowID)
	logging.LogWith(ctx, e.cfg.Logger).InfoContext(ctx, "execution cancelled")
	e.publishSnapshot(ctx, schema.EventExecutionCancelled, snapshot)
	return nil
}

// Get returns a snapshot of one execution.
func (e *Engine) Get(ctx context.Context, id string) (*schema.Execution, error) {
	return e.store.Get(ctx, id)
}

// ListActive returns snapshots of running and paused executions.
func (e *Engine) ListActive(ctx context.Context) ([]*schema.Execution, error) {
	return e.store.List(ctx, store.Filter{ActiveOnly: true})
}

// List returns execution snapshots, optionally narrowed to one workflow.
func (e *Engine) List(ctx context.Context, workflowID string) ([]*schema.Execution, error) {
	return e.store.List(ctx, store.Filter{WorkflowID: workflowID})
}

// Clear evicts one terminal execution from the store.
func (e *Engine) Clear(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// ClearFinished evicts every terminal execution and reports how many were
// removed.
func (e *Engine) ClearFinished(ctx context.Context) (int, error) {
	return e.store.Clear(ctx)
}
