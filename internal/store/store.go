package store

import (
	"context"

	"github.com/weft-run/weft/pkg/schema"
)

// ExecutionStore owns live execution state. The engine is the only writer
// during dispatch; control operations (pause, resume, cancel) mutate through
// the same guarded methods, so implementations must be safe for concurrent
// use. Reads hand out deep copies, never pointers into live state.
type ExecutionStore interface {
	// Create registers a new execution. Fails with CONFLICT if the id exists.
	Create(ctx context.Context, exec *schema.Execution) error

	// Get returns a deep copy of the execution.
	Get(ctx context.Context, id string) (*schema.Execution, error)

	// List returns deep copies of executions matching the filter,
	// newest first.
	List(ctx context.Context, filter Filter) ([]*schema.Execution, error)

	// Status returns just the current status without copying the record.
	Status(ctx context.Context, id string) (schema.ExecutionStatus, error)

	// UpdateStatus transitions the execution, enforcing the lifecycle
	// state machine. Terminal transitions stamp the end time. Fails with
	// INVALID_TRANSITION when the move is not allowed from the current
	// status.
	UpdateStatus(ctx context.Context, id string, to schema.ExecutionStatus) error

	// Finish moves the execution into a terminal status and records the
	// error message, if any.
	Finish(ctx context.Context, id string, to schema.ExecutionStatus, errMsg string) error

	// BindVariable sets a single variable.
	BindVariable(ctx context.Context, id, name string, value any) error

	// MergeVariables overlays the given bindings onto the execution's
	// variables, overwriting on collision.
	MergeVariables(ctx context.Context, id string, vars map[string]any) error

	// SetCurrentStep records the step the dispatcher is positioned at.
	SetCurrentStep(ctx context.Context, id, stepID string) error

	// AppendRecord adds a step history entry.
	AppendRecord(ctx context.Context, id string, rec schema.StepRecord) error

	// CompleteRecord closes the most recent running record for the step
	// with its output.
	CompleteRecord(ctx context.Context, id, stepID string, output any) error

	// FailRecord closes the most recent running record for the step with
	// an error message and the retry count it failed at.
	FailRecord(ctx context.Context, id, stepID, errMsg string, retryCount int) error

	// Delete removes a single execution. Active executions are refused
	// with CONFLICT.
	Delete(ctx context.Context, id string) error

	// Clear removes every terminal execution and reports how many were
	// removed.
	Clear(ctx context.Context) (int, error)
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	ActiveOnly bool
	Limit      int
}

func (f Filter) matches(exec *schema.Execution) bool {
	if f.WorkflowID != "" && f.WorkflowID != exec.WorkflowID {
		return false
	}
	if f.Status != "" && f.Status != exec.Status {
		return false
	}
	if f.ActiveOnly && !exec.Status.Active() {
		return false
	}
	return true
}
