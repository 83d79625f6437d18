package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weft-run/weft/internal/engine"
	"github.com/weft-run/weft/pkg/schema"
)

// Request describes a human checkpoint waiting for an answer.
type Request struct {
	ExecutionID string
	StepID      string
	Prompt      string
	Options     []string
}

// Pending is a snapshot of an open checkpoint.
type Pending struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"executionId"`
	StepID      string    `json:"stepId"`
	Prompt      string    `json:"prompt"`
	Options     []string  `json:"options,omitempty"`
	Since       time.Time `json:"since"`
}

type waiter struct {
	req    Request
	answer chan string
	since  time.Time
}

// Broker bridges blocked human-in-the-loop steps and out-of-band answers.
// A step blocks in Request until someone calls Resolve with a matching id,
// or its context ends (pause, cancel, timeout).
type Broker struct {
	mu      sync.Mutex
	waiters map[string]*waiter
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{waiters: make(map[string]*waiter)}
}

// Key builds the checkpoint id for an execution and step.
func Key(executionID, stepID string) string {
	return executionID + "/" + stepID
}

// Request registers the checkpoint and blocks until it is resolved or the
// context ends. Registering the same execution/step twice is a conflict.
func (b *Broker) Request(ctx context.Context, req Request) (string, error) {
	if req.ExecutionID == "" || req.StepID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "checkpoint requires execution and step ids")
	}
	id := Key(req.ExecutionID, req.StepID)

	b.mu.Lock()
	if _, exists := b.waiters[id]; exists {
		b.mu.Unlock()
		return "", schema.NewErrorf(schema.ErrCodeConflict, "checkpoint %s is already pending", id)
	}
	w := &waiter{
		req:    req,
		answer: make(chan string, 1),
		since:  time.Now().UTC(),
	}
	b.waiters[id] = w
	b.mu.Unlock()

	select {
	case answer := <-w.answer:
		return answer, nil
	case <-ctx.Done():
		b.remove(id)
		return "", ctx.Err()
	}
}

// Resolve delivers an answer to a pending checkpoint. When the checkpoint
// declares options, answers outside that list are rejected and the step
// keeps waiting.
func (b *Broker) Resolve(id, answer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.waiters[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no pending checkpoint %q", id)
	}
	if err := checkAnswer(w.req, answer); err != nil {
		return err
	}

	delete(b.waiters, id)
	w.answer <- answer
	return nil
}

// ResolveExecution answers the single pending checkpoint of an execution.
// With several checkpoints open (parallel branches) the caller must name
// the step via Resolve.
func (b *Broker) ResolveExecution(executionID, answer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found *waiter
	var foundID string
	for id, w := range b.waiters {
		if w.req.ExecutionID != executionID {
			continue
		}
		if found != nil {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"execution %s has multiple pending checkpoints, resolve by step id", executionID)
		}
		found, foundID = w, id
	}
	if found == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no pending checkpoint for execution %s", executionID)
	}
	if err := checkAnswer(found.req, answer); err != nil {
		return err
	}

	delete(b.waiters, foundID)
	found.answer <- answer
	return nil
}

// Pending lists open checkpoints, oldest first.
func (b *Broker) Pending() []Pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Pending, 0, len(b.waiters))
	for id, w := range b.waiters {
		out = append(out, Pending{
			ID:          id,
			ExecutionID: w.req.ExecutionID,
			StepID:      w.req.StepID,
			Prompt:      w.req.Prompt,
			Options:     w.req.Options,
			Since:       w.since,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Func adapts the broker to the engine's checkpoint hook.
func (b *Broker) Func() engine.CheckpointFunc {
	return func(ctx context.Context, req engine.CheckpointRequest) (string, error) {
		return b.Request(ctx, Request{
			ExecutionID: req.ExecutionID,
			StepID:      req.StepID,
			Prompt:      req.Prompt,
			Options:     req.Options,
		})
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, id)
}

func checkAnswer(req Request, answer string) error {
	if len(req.Options) == 0 {
		return nil
	}
	for _, opt := range req.Options {
		if answer == opt {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeCheckpointRejected,
		"answer %q is not one of the allowed options", answer).
		WithStep(req.StepID).
		WithDetails(map[string]any{
			"options": req.Options,
			"answer":  answer,
		})
}
