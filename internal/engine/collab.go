package engine

import (
	"context"
	"log/slog"

	"github.com/weft-run/weft/internal/expressions"
	"github.com/weft-run/weft/internal/rag"
	"github.com/weft-run/weft/internal/streaming"
	"github.com/weft-run/weft/internal/tools"
)

// AgentCall carries everything the agent collaborator needs for one agent
// step: the resolved input plus correlation ids and a snapshot of the
// execution variables. Variables is a copy; mutating it has no effect on
// the execution.
type AgentCall struct {
	ExecutionID string
	WorkflowID  string
	StepID      string
	Input       any
	Variables   map[string]any
}

// AgentRunner is the host's agent integration. The engine treats the
// returned value as opaque output; blocking until the agent finishes is
// expected, so implementations must honor ctx cancellation.
type AgentRunner interface {
	RunAgent(ctx context.Context, call AgentCall) (any, error)
}

// CheckpointRequest describes one human_in_the_loop pause.
type CheckpointRequest struct {
	ExecutionID string
	StepID      string
	Prompt      string
	Options     []string
}

// CheckpointFunc blocks until a human answers the checkpoint (or ctx ends)
// and returns the raw answer string. When the request declares options the
// implementation must only return one of them.
type CheckpointFunc func(ctx context.Context, req CheckpointRequest) (string, error)

// Config wires collaborators into the engine. Every collaborator is
// optional; a step kind whose collaborator is absent fails at dispatch
// with an EXECUTION_ERROR naming the missing piece.
type Config struct {
	// Agent runs agent steps.
	Agent AgentRunner

	// Tools resolves and invokes tool steps.
	Tools *tools.Registry

	// Pipelines resolves rag steps by pipeline name.
	Pipelines map[string]rag.Pipeline

	// Checkpoint blocks human_in_the_loop steps until answered.
	Checkpoint CheckpointFunc

	// Evaluator evaluates conditions, expression inputs, and transforms.
	// Defaults to the ${name} template evaluator.
	Evaluator expressions.Evaluator

	// Sink receives audit events. Nil disables event emission.
	Sink streaming.Sink

	// Logger receives structured engine logs. Defaults to slog.Default().
	Logger *slog.Logger

	// StrictVariables makes unresolved variable inputs a hard error
	// instead of binding nil.
	StrictVariables bool
}
