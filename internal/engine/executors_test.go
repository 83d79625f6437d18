package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/rag"
	"github.com/weft-run/weft/internal/tools"
	"github.com/weft-run/weft/pkg/schema"
)

// stubTool is a Tool with programmable behavior and no schema.
type stubTool struct {
	mu    sync.Mutex
	name  string
	calls int
	fn    func(ctx context.Context, input any) (any, error)
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Schema() tools.ToolSchema { return tools.ToolSchema{Description: "test tool"} }

func (s *stubTool) Execute(ctx context.Context, input any) (any, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, input)
}

func (s *stubTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func registryWith(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

// --- Tool steps ---

func TestEngine_Tool_InvokesRegisteredTool(t *testing.T) {
	echo := &stubTool{name: "echo", fn: func(_ context.Context, input any) (any, error) {
		return input, nil
	}}
	env := newTestEnv(func(c *Config) { c.Tools = registryWith(t, echo) })
	wf := workflowOf("tooling", &schema.ToolStep{
		ID:       "call",
		ToolName: "echo",
		Input:    schema.Literal(map[string]any{"k": "v"}),
		Output:   "reply",
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.StatusCompleted, exec.Status)
	assert.Equal(t, 1, echo.callCount())
	assert.Equal(t, map[string]any{"k": "v"}, exec.Variables["reply"])
	require.Len(t, exec.StepHistory, 1)
	assert.Equal(t, schema.KindTool, exec.StepHistory[0].StepType)
}

func TestEngine_Tool_NoRegistryConfigured(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("tooling", &schema.ToolStep{
		ID:       "call",
		ToolName: "echo",
		Input:    schema.Literal("x"),
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	assert.True(t, schema.IsCode(err, schema.ErrCodeStepFailed))
	assert.Contains(t, err.Error(), "no tool registry")
	assert.Equal(t, schema.StatusFailed, exec.Status)
}

func TestEngine_Tool_UnknownTool(t *testing.T) {
	env := newTestEnv(func(c *Config) { c.Tools = registryWith(t) })
	wf := workflowOf("tooling", &schema.ToolStep{
		ID:       "call",
		ToolName: "ghost",
		Input:    schema.Literal("x"),
	})

	_, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeStepFailed, werr.Code)
	cause, ok := schema.AsError(werr.Cause)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, cause.Code)
	assert.Contains(t, cause.Message, "ghost")
}

func TestEngine_Tool_RetryCountReachesRecord(t *testing.T) {
	flaky := &stubTool{name: "flaky", fn: func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("transient glitch")
	}}
	wrapped := tools.WithRetry(flaky, tools.RetryPolicy{Max: 2, Backoff: "none"})
	env := newTestEnv(func(c *Config) { c.Tools = registryWith(t, wrapped) })
	wf := workflowOf("tooling", &schema.ToolStep{
		ID:       "call",
		ToolName: "flaky",
		Input:    schema.Literal("x"),
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	assert.Equal(t, 3, flaky.callCount())
	require.Len(t, exec.StepHistory, 1)
	rec := exec.StepHistory[0]
	assert.Equal(t, schema.StepFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Contains(t, rec.Error, "after 3 attempts")

	failed := env.sink.byType(schema.EventStepFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Payload["retryCount"])
}

// --- Human-in-the-loop steps ---

func TestEngine_Human_RecordsAnswer(t *testing.T) {
	var got CheckpointRequest
	env := newTestEnv(func(c *Config) {
		c.Checkpoint = func(_ context.Context, req CheckpointRequest) (string, error) {
			got = req
			return "approve", nil
		}
	})
	wf := workflowOf("signoff", &schema.HumanStep{
		ID:      "review",
		Prompt:  "Ship it?",
		Options: []string{"approve", "reject"},
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, exec.ID, got.ExecutionID)
	assert.Equal(t, "review", got.StepID)
	assert.Equal(t, "Ship it?", got.Prompt)
	assert.Equal(t, []string{"approve", "reject"}, got.Options)

	require.Len(t, exec.StepHistory, 1)
	assert.Equal(t, schema.KindHuman, exec.StepHistory[0].StepType)
	assert.Equal(t, "approve", exec.StepHistory[0].Output)

	requested := env.sink.byType(schema.EventCheckpointRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, "Ship it?", requested[0].Payload["prompt"])
	resolved := env.sink.byType(schema.EventCheckpointResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, "approve", resolved[0].Payload["answer"])
}

func TestEngine_Human_RejectsUnlistedAnswer(t *testing.T) {
	env := newTestEnv(func(c *Config) {
		c.Checkpoint = func(_ context.Context, _ CheckpointRequest) (string, error) {
			return "maybe", nil
		}
	})
	wf := workflowOf("signoff", &schema.HumanStep{
		ID:      "review",
		Prompt:  "Ship it?",
		Options: []string{"approve", "reject"},
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeStepFailed, werr.Code)
	cause, ok := schema.AsError(werr.Cause)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCheckpointRejected, cause.Code)
	assert.Equal(t, "maybe", cause.Details["answer"])

	assert.Equal(t, schema.StatusFailed, exec.Status)
	assert.Empty(t, env.sink.byType(schema.EventCheckpointResolved))
}

func TestEngine_Human_FreeformWithoutOptions(t *testing.T) {
	env := newTestEnv(func(c *Config) {
		c.Checkpoint = func(_ context.Context, _ CheckpointRequest) (string, error) {
			return "use the blue theme", nil
		}
	})
	wf := workflowOf("signoff", &schema.HumanStep{ID: "review", Prompt: "Any notes?"})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, "use the blue theme", exec.StepHistory[0].Output)
}

func TestEngine_Human_NoCollaboratorConfigured(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("signoff", &schema.HumanStep{ID: "review", Prompt: "Ship it?"})

	_, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint collaborator")
}

// --- RAG steps ---

func TestEngine_RAG_QueriesPipeline(t *testing.T) {
	pipeline := rag.NewMemoryPipeline()
	pipeline.Add(
		rag.Document{ID: "d1", Content: "deploy with make release"},
		rag.Document{ID: "d2", Content: "rollback with make undo"},
	)
	env := newTestEnv(func(c *Config) {
		c.Pipelines = map[string]rag.Pipeline{"docs": pipeline}
	})
	wf := workflowOf("grounded", &schema.RAGStep{
		ID:       "fetch",
		Pipeline: "docs",
		Query:    schema.Literal("deploy release"),
		TopK:     1,
		Output:   "context",
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	res, ok := exec.Variables["context"].(*rag.Result)
	require.True(t, ok)
	assert.Equal(t, "deploy release", res.Query)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "d1", res.Documents[0].ID)
}

func TestEngine_RAG_QueryFromVariable(t *testing.T) {
	pipeline := rag.NewMemoryPipeline()
	pipeline.Add(rag.Document{ID: "d1", Content: "rollback with make undo"})
	env := newTestEnv(func(c *Config) {
		c.Pipelines = map[string]rag.Pipeline{"docs": pipeline}
	})
	wf := workflowOf("grounded", &schema.RAGStep{
		ID:       "fetch",
		Pipeline: "docs",
		Query:    schema.Variable("question"),
		Output:   "context",
	})

	exec, err := env.engine.Execute(context.Background(), wf, map[string]any{"question": "how to rollback"})
	require.NoError(t, err)

	res, ok := exec.Variables["context"].(*rag.Result)
	require.True(t, ok)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "d1", res.Documents[0].ID)
}

func TestEngine_RAG_UnknownPipeline(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("grounded", &schema.RAGStep{
		ID:       "fetch",
		Pipeline: "docs",
		Query:    schema.Literal("anything"),
	})

	_, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	cause, ok := schema.AsError(werr.Cause)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, cause.Code)
	assert.Contains(t, cause.Message, "docs")
}

func TestEngine_RAG_QueryMustBeText(t *testing.T) {
	env := newTestEnv(func(c *Config) {
		c.Pipelines = map[string]rag.Pipeline{"docs": rag.NewMemoryPipeline()}
	})
	wf := workflowOf("grounded", &schema.RAGStep{
		ID:       "fetch",
		Pipeline: "docs",
		Query:    schema.Literal(42),
	})

	_, err := env.engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must resolve to text")
}

// --- Transform steps ---

func TestEngine_Transform_BindsInputForOneEvaluation(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("shaping", &schema.TransformStep{
		ID:         "greet",
		Input:      schema.Literal("Ada"),
		Expression: "Hello ${$input}!",
		Output:     "greeting",
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello Ada!", exec.Variables["greeting"])
	assert.Equal(t, "Hello Ada!", exec.StepHistory[0].Output)

	// The reserved binding never reaches the stored variables.
	assert.NotContains(t, exec.Variables, "$input")
}

func TestEngine_Transform_CoercesWholeResult(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("shaping",
		&schema.TransformStep{ID: "t1", Input: schema.Literal(nil), Expression: "${flag}", Output: "mirrored"},
		&schema.TransformStep{ID: "t2", Input: schema.Literal(nil), Expression: "${count}", Output: "total"},
		&schema.TransformStep{ID: "t3", Input: schema.Literal(nil), Expression: "${count} items", Output: "label"},
	)

	exec, err := env.engine.Execute(context.Background(), wf, map[string]any{"flag": true, "count": 3})
	require.NoError(t, err)

	assert.Equal(t, true, exec.Variables["mirrored"])
	assert.Equal(t, float64(3), exec.Variables["total"])
	assert.Equal(t, "3 items", exec.Variables["label"])
}

func TestEngine_Transform_ChainsThroughVariables(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("shaping",
		&schema.TransformStep{ID: "version", Input: schema.Literal(nil), Expression: "v${major}.${minor}", Output: "version"},
		&schema.TransformStep{ID: "tag", Input: schema.Literal(nil), Expression: "release ${version}", Output: "tag"},
	)

	exec, err := env.engine.Execute(context.Background(), wf, map[string]any{"major": 2, "minor": 7})
	require.NoError(t, err)

	assert.Equal(t, "v2.7", exec.Variables["version"])
	assert.Equal(t, "release v2.7", exec.Variables["tag"])
}

func TestEngine_Transform_UnboundPlaceholderKept(t *testing.T) {
	env := newTestEnv()
	wf := workflowOf("shaping", &schema.TransformStep{
		ID:         "greet",
		Input:      schema.Literal(nil),
		Expression: "Hello ${nobody}!",
		Output:     "greeting",
	})

	exec, err := env.engine.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello ${nobody}!", exec.Variables["greeting"])
}
