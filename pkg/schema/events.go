package schema

import "time"

// Event type constants for the execution audit stream.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"
	EventExecutionCancelled = "execution_cancelled"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"

	EventCheckpointRequested = "checkpoint_requested"
	EventCheckpointResolved  = "checkpoint_resolved"

	EventLoopIteration   = "loop_iteration"
	EventBranchCompleted = "branch_completed"
)

// Event is one entry in the execution audit stream. Sequence is assigned by
// the journal (per execution, monotonic); in-memory sinks leave it zero.
type Event struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId,omitempty"`
	StepID      string         `json:"stepId,omitempty"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Sequence    int64          `json:"sequence,omitempty"`
}
