package streaming

import (
	"context"
	"errors"

	"github.com/weft-run/weft/pkg/schema"
)

// Sink receives audit events emitted during execution. Implementations must
// be safe for concurrent use; the engine publishes from the dispatch
// goroutine and from parallel branches.
type Sink interface {
	Publish(ctx context.Context, event schema.Event) error
}

// Filter specifies which events a subscriber wants to receive. Zero-value
// fields match everything.
type Filter struct {
	ExecutionID string   `json:"executionId,omitempty"`
	WorkflowID  string   `json:"workflowId,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// Matches reports whether an event passes the filter criteria.
func (f Filter) Matches(e schema.Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Hub is a Sink that also supports live subscriptions.
type Hub interface {
	Sink
	Subscribe(ctx context.Context, filter Filter) (<-chan schema.Event, func(), error)
}

// Fanout publishes each event to every sink. A failing sink does not stop
// delivery to the others; errors are joined.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, event schema.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, schema.Event) error { return nil }
