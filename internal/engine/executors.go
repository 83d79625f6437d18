package engine

import (
	"context"
	"slices"

	"github.com/weft-run/weft/internal/rag"
	"github.com/weft-run/weft/internal/validation"
	"github.com/weft-run/weft/pkg/schema"
)

func (w *walker) runAgent(ctx context.Context, s *schema.AgentStep, input any) (any, error) {
	if w.eng.cfg.Agent == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no agent runner is configured")
	}
	vars, err := w.vars(ctx)
	if err != nil {
		return nil, err
	}
	return w.eng.cfg.Agent.RunAgent(ctx, AgentCall{
		ExecutionID: w.execID,
		WorkflowID:  w.wf.ID,
		StepID:      s.ID,
		Input:       input,
		Variables:   vars,
	})
}

func (w *walker) runTool(ctx context.Context, s *schema.ToolStep, input any) (any, error) {
	if w.eng.cfg.Tools == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no tool registry is configured")
	}
	return w.eng.cfg.Tools.Invoke(ctx, s.ToolName, input)
}

// runHuman blocks on the checkpoint collaborator until a human answers.
// Declared options are enforced here as well, so a collaborator that skips
// its own check still cannot smuggle in an unlisted answer.
func (w *walker) runHuman(ctx context.Context, s *schema.HumanStep) (any, error) {
	if w.eng.cfg.Checkpoint == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no checkpoint collaborator is configured")
	}

	w.publish(ctx, s.ID, schema.EventCheckpointRequested, map[string]any{
		"prompt":  s.Prompt,
		"options": s.Options,
	})

	answer, err := w.eng.cfg.Checkpoint(ctx, CheckpointRequest{
		ExecutionID: w.execID,
		StepID:      s.ID,
		Prompt:      s.Prompt,
		Options:     s.Options,
	})
	if err != nil {
		return nil, err
	}
	if len(s.Options) > 0 && !slices.Contains(s.Options, answer) {
		return nil, schema.NewErrorf(schema.ErrCodeCheckpointRejected,
			"answer %q is not one of the allowed options", answer).
			WithDetails(map[string]any{"options": s.Options, "answer": answer})
	}

	w.publish(ctx, s.ID, schema.EventCheckpointResolved, map[string]any{"answer": answer})
	return answer, nil
}

func (w *walker) runRAG(ctx context.Context, s *schema.RAGStep, input any) (any, error) {
	pipeline, ok := w.eng.cfg.Pipelines[s.Pipeline]
	if !ok || pipeline == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "rag pipeline %q not found", s.Pipeline)
	}
	query, ok := input.(string)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rag query must resolve to text, got %T", input)
	}
	return pipeline.Query(ctx, query, rag.QueryOptions{Limit: s.TopK})
}

// runTransform evaluates the expression against the variables extended
// with the reserved $input binding. The binding lives only for this one
// evaluation; it never reaches the stored variables.
func (w *walker) runTransform(ctx context.Context, s *schema.TransformStep, input any) (any, error) {
	vars, err := w.vars(ctx)
	if err != nil {
		return nil, err
	}
	vars[validation.ReservedInputName] = input
	return w.eng.cfg.Evaluator.Evaluate(ctx, s.Expression, vars)
}
