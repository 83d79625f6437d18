package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/weft-run/weft/internal/logging"
	"github.com/weft-run/weft/pkg/schema"
)

// publish stamps and emits one audit event. Emission is best effort: a
// failing sink is logged and never fails the execution.
func (e *Engine) publish(ctx context.Context, event schema.Event) {
	if e.cfg.Sink == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	if err := e.cfg.Sink.Publish(ctx, event); err != nil {
		logging.LogWith(ctx, e.cfg.Logger).WarnContext(ctx, "event publish failed",
			"type", event.Type, "error", err)
	}
}

// publishSnapshot emits a lifecycle event carrying the execution snapshot,
// which snapshot-aware sinks (the journal) use to upsert their copy.
func (e *Engine) publishSnapshot(ctx context.Context, eventType string, exec *schema.Execution) {
	e.publish(ctx, schema.Event{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Type:        eventType,
		Payload:     map[string]any{"execution": exec},
	})
}

func (w *walker) publish(ctx context.Context, stepID, eventType string, payload map[string]any) {
	w.eng.publish(ctx, schema.Event{
		ExecutionID: w.execID,
		WorkflowID:  w.wf.ID,
		StepID:      stepID,
		Type:        eventType,
		Payload:     payload,
	})
}
