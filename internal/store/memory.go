package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weft-run/weft/pkg/schema"
)

// allowedTransitions is the execution lifecycle state machine. Terminal
// statuses have no outgoing edges.
var allowedTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.StatusRunning: {
		schema.StatusPaused,
		schema.StatusCancelled,
		schema.StatusCompleted,
		schema.StatusFailed,
	},
	schema.StatusPaused: {
		schema.StatusRunning,
		schema.StatusCancelled,
	},
}

func transitionAllowed(from, to schema.ExecutionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MemoryStore is the in-memory ExecutionStore. A single mutex guards the
// map and every record inside it; reads clone before returning.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*schema.Execution
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs: make(map[string]*schema.Execution),
	}
}

func (s *MemoryStore) Create(_ context.Context, exec *schema.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.execs[exec.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", exec.ID)
	}
	s.execs[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[id]
	if !ok {
		return nil, notFound(id)
	}
	return exec.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.Execution
	for _, exec := range s.execs {
		if filter.matches(exec) {
			out = append(out, exec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Status(_ context.Context, id string) (schema.ExecutionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[id]
	if !ok {
		return "", notFound(id)
	}
	return exec.Status, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, to schema.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, to, "")
}

func (s *MemoryStore) Finish(_ context.Context, id string, to schema.ExecutionStatus, errMsg string) error {
	if !to.Terminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "finish requires a terminal status, got %q", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, to, errMsg)
}

// transitionLocked applies a guarded status change. Callers hold the write
// lock.
func (s *MemoryStore) transitionLocked(id string, to schema.ExecutionStatus, errMsg string) error {
	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	if !transitionAllowed(exec.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot transition execution %s from %q to %q", id, exec.Status, to).
			WithDetails(map[string]any{"from": string(exec.Status), "to": string(to)})
	}
	exec.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		exec.EndTime = &now
	}
	if errMsg != "" {
		exec.Error = errMsg
	}
	return nil
}

func (s *MemoryStore) BindVariable(_ context.Context, id, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	if exec.Variables == nil {
		exec.Variables = make(map[string]any)
	}
	exec.Variables[name] = value
	return nil
}

func (s *MemoryStore) MergeVariables(_ context.Context, id string, vars map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	if exec.Variables == nil {
		exec.Variables = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		exec.Variables[k] = v
	}
	return nil
}

func (s *MemoryStore) SetCurrentStep(_ context.Context, id, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	exec.CurrentStep = stepID
	return nil
}

func (s *MemoryStore) AppendRecord(_ context.Context, id string, rec schema.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	exec.StepHistory = append(exec.StepHistory, rec.Clone())
	return nil
}

func (s *MemoryStore) CompleteRecord(_ context.Context, id, stepID string, output any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRecordLocked(id, stepID, schema.StepCompleted, output, "", 0)
}

func (s *MemoryStore) FailRecord(_ context.Context, id, stepID, errMsg string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRecordLocked(id, stepID, schema.StepFailed, nil, errMsg, retryCount)
}

func (s *MemoryStore) closeRecordLocked(id, stepID string, status schema.StepStatus, output any, errMsg string, retryCount int) error {
	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	rec := exec.LatestRecord(stepID)
	if rec == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no history entry for step %q in execution %s", stepID, id)
	}
	if rec.Status != schema.StepRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"step %q record is %q, not running", stepID, rec.Status).WithStep(stepID)
	}
	rec.Status = status
	now := time.Now().UTC()
	rec.EndTime = &now
	if output != nil {
		rec.Output = output
	}
	if errMsg != "" {
		rec.Error = errMsg
	}
	if retryCount > 0 {
		rec.RetryCount = retryCount
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return notFound(id)
	}
	if exec.Status.Active() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %s is %s; stop it before deleting", id, exec.Status)
	}
	delete(s.execs, id)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, exec := range s.execs {
		if exec.Status.Terminal() {
			delete(s.execs, id)
			removed++
		}
	}
	return removed, nil
}

func notFound(id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
}

var _ ExecutionStore = (*MemoryStore)(nil)
