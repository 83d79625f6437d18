package schema

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status never transitions again.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Active reports whether the run still owns work (running or paused).
func (s ExecutionStatus) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

// StepStatus is the lifecycle state of one step record.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Execution is the mutable record of one workflow run. It is owned by the
// execution store; engine reads hand out deep copies, so callers never hold
// a pointer into live state.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflowId"`
	Status      ExecutionStatus `json:"status"`
	Variables   map[string]any  `json:"variables"`
	CurrentStep string          `json:"currentStep"`
	StepHistory []StepRecord    `json:"stepHistory"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StepRecord is one append-only audit entry in an execution's history.
// A record is created when its step begins and updated in place only while
// it is still the most recent entry for that step id.
type StepRecord struct {
	StepID     string     `json:"stepId"`
	StepType   StepKind   `json:"stepType"`
	Status     StepStatus `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Input      any        `json:"input,omitempty"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retryCount,omitempty"`
}

// Clone returns a deep copy of the execution. Variables and record payloads
// are copied down through nested maps and slices; leaf values are assumed to
// be JSON-shaped (scalars, maps, slices) and are shared only when immutable.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Variables = CloneVariables(e.Variables)
	cp.StepHistory = make([]StepRecord, len(e.StepHistory))
	for i, rec := range e.StepHistory {
		cp.StepHistory[i] = rec.Clone()
	}
	if e.EndTime != nil {
		t := *e.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// Clone returns a deep copy of the record.
func (r StepRecord) Clone() StepRecord {
	cp := r
	cp.Input = cloneValue(r.Input)
	cp.Output = cloneValue(r.Output)
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	return cp
}

// CloneVariables deep-copies a variable binding map.
func CloneVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = cloneValue(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	default:
		return v
	}
}

// LatestRecord returns a pointer to the most recent history entry for the
// given step id, or nil when the step has no entry yet. The pointer is into
// the receiver's own history and must only be used on unshared copies.
func (e *Execution) LatestRecord(stepID string) *StepRecord {
	for i := len(e.StepHistory) - 1; i >= 0; i-- {
		if e.StepHistory[i].StepID == stepID {
			return &e.StepHistory[i]
		}
	}
	return nil
}
