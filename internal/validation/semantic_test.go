package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/pkg/schema"
)

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "release-notes",
		Name: "Release notes",
		Steps: schema.StepList{
			&schema.AgentStep{ID: "draft", Input: schema.Literal("summarize the diff"), Output: "draft"},
			&schema.ToolStep{ID: "fetch", ToolName: "http.request", Input: schema.Variable("request"), Output: "response"},
			&schema.ConditionalStep{
				ID:        "gate",
				Condition: "${approved}",
				Then: schema.StepList{
					&schema.TransformStep{ID: "upper", Input: schema.Variable("draft"), Expression: "${draft}", Output: "final"},
				},
				Else: schema.StepList{
					&schema.HumanStep{ID: "review", Prompt: "Approve the draft?", Options: []string{"approve", "reject"}},
				},
			},
			&schema.ParallelStep{
				ID: "fanout",
				Branches: []schema.StepList{
					{&schema.AgentStep{ID: "branch-a", Input: schema.Literal("a")}},
					{&schema.AgentStep{ID: "branch-b", Input: schema.Literal("b")}},
				},
			},
			&schema.LoopStep{
				ID:           "each-item",
				Collection:   schema.Variable("items"),
				ItemVariable: "item",
				Steps: schema.StepList{
					&schema.AgentStep{ID: "handle-item", Input: schema.Variable("item")},
				},
			},
			&schema.RAGStep{ID: "context", Pipeline: "docs", Query: schema.Literal("deployment runbook"), TopK: 3, Output: "context"},
		},
		Timeout: "5m",
	}
}

func firstError(t *testing.T, result *schema.ValidationResult) schema.ValidationIssue {
	t.Helper()
	require.False(t, result.Valid())
	require.NotEmpty(t, result.Errors)
	return result.Errors[0]
}

func TestCheckWorkflow_Valid(t *testing.T) {
	result := CheckWorkflow(validWorkflow())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
}

func TestCheckWorkflow_Nil(t *testing.T) {
	issue := firstError(t, CheckWorkflow(nil))
	assert.Contains(t, issue.Message, "nil")
}

func TestCheckWorkflow_MissingID(t *testing.T) {
	wf := validWorkflow()
	wf.ID = ""

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "id", issue.Path)
}

func TestCheckWorkflow_InvalidTimeout(t *testing.T) {
	wf := validWorkflow()
	wf.Timeout = "sometime"

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "timeout", issue.Path)
	assert.Contains(t, issue.Message, "sometime")
}

func TestCheckWorkflow_NonPositiveTimeout(t *testing.T) {
	wf := validWorkflow()
	wf.Timeout = "0s"

	issue := firstError(t, CheckWorkflow(wf))
	assert.Contains(t, issue.Message, "positive")
}

func TestCheckWorkflow_NoSteps(t *testing.T) {
	wf := &schema.Workflow{ID: "empty"}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps", issue.Path)
}

func TestCheckWorkflow_DuplicateIDsAcrossNesting(t *testing.T) {
	wf := &schema.Workflow{
		ID: "dup",
		Steps: schema.StepList{
			&schema.AgentStep{ID: "work", Input: schema.Literal("x")},
			&schema.ConditionalStep{
				ID:        "gate",
				Condition: "${ok}",
				Then: schema.StepList{
					&schema.AgentStep{ID: "work", Input: schema.Literal("y")},
				},
			},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/1/then/0/id", issue.Path)
	assert.Contains(t, issue.Message, `duplicate step id "work"`)
	assert.Contains(t, issue.Message, "steps/0")
}

func TestCheckWorkflow_DuplicateIDsAcrossParallelBranches(t *testing.T) {
	wf := &schema.Workflow{
		ID: "dup-branches",
		Steps: schema.StepList{
			&schema.ParallelStep{
				ID: "fanout",
				Branches: []schema.StepList{
					{&schema.AgentStep{ID: "same", Input: schema.Literal("a")}},
					{&schema.AgentStep{ID: "same", Input: schema.Literal("b")}},
				},
			},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/branches/1/0/id", issue.Path)
}

func TestCheckWorkflow_EmptyStepID(t *testing.T) {
	wf := &schema.Workflow{
		ID: "no-id",
		Steps: schema.StepList{
			&schema.AgentStep{Input: schema.Literal("x")},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/id", issue.Path)
}

func TestCheckWorkflow_ToolMissingName(t *testing.T) {
	wf := &schema.Workflow{
		ID: "tool",
		Steps: schema.StepList{
			&schema.ToolStep{ID: "call", Input: schema.Literal(map[string]any{"url": "https://example.com"})},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/toolName", issue.Path)
}

func TestCheckWorkflow_ConditionalMissingPieces(t *testing.T) {
	wf := &schema.Workflow{
		ID: "cond",
		Steps: schema.StepList{
			&schema.ConditionalStep{ID: "gate"},
		},
	}

	result := CheckWorkflow(wf)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "steps/0/condition", result.Errors[0].Path)
	assert.Equal(t, "steps/0/then", result.Errors[1].Path)
}

func TestCheckWorkflow_ParallelWithoutBranches(t *testing.T) {
	wf := &schema.Workflow{
		ID: "par",
		Steps: schema.StepList{
			&schema.ParallelStep{ID: "fanout"},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/branches", issue.Path)
}

func TestCheckWorkflow_ParallelEmptyBranch(t *testing.T) {
	wf := &schema.Workflow{
		ID: "par",
		Steps: schema.StepList{
			&schema.ParallelStep{
				ID: "fanout",
				Branches: []schema.StepList{
					{&schema.AgentStep{ID: "a", Input: schema.Literal("x")}},
					{},
				},
			},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/branches/1", issue.Path)
	assert.Contains(t, issue.Message, "empty")
}

func TestCheckWorkflow_LoopChecks(t *testing.T) {
	wf := &schema.Workflow{
		ID: "loop",
		Steps: schema.StepList{
			&schema.LoopStep{ID: "each", MaxIterations: -1},
		},
	}

	result := CheckWorkflow(wf)
	require.False(t, result.Valid())

	paths := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		paths = append(paths, issue.Path)
	}
	assert.Contains(t, paths, "steps/0/collection")
	assert.Contains(t, paths, "steps/0/itemVariable")
	assert.Contains(t, paths, "steps/0/maxIterations")
	assert.Contains(t, paths, "steps/0/steps")
}

func TestCheckWorkflow_LoopReservedItemVariable(t *testing.T) {
	wf := &schema.Workflow{
		ID: "loop",
		Steps: schema.StepList{
			&schema.LoopStep{
				ID:           "each",
				Collection:   schema.Variable("items"),
				ItemVariable: ReservedInputName,
				Steps: schema.StepList{
					&schema.AgentStep{ID: "body", Input: schema.Literal("x")},
				},
			},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/itemVariable", issue.Path)
	assert.Contains(t, issue.Message, "reserved")
}

func TestCheckWorkflow_HumanChecks(t *testing.T) {
	wf := &schema.Workflow{
		ID: "human",
		Steps: schema.StepList{
			&schema.HumanStep{ID: "gate", Options: []string{"yes", ""}},
		},
	}

	result := CheckWorkflow(wf)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "steps/0/prompt", result.Errors[0].Path)
	assert.Equal(t, "steps/0/options/1", result.Errors[1].Path)
}

func TestCheckWorkflow_HumanWithoutOptionsIsFine(t *testing.T) {
	wf := &schema.Workflow{
		ID: "human",
		Steps: schema.StepList{
			&schema.HumanStep{ID: "gate", Prompt: "Continue?"},
		},
	}

	assert.True(t, CheckWorkflow(wf).Valid())
}

func TestCheckWorkflow_RAGChecks(t *testing.T) {
	wf := &schema.Workflow{
		ID: "rag",
		Steps: schema.StepList{
			&schema.RAGStep{ID: "lookup", TopK: -2},
		},
	}

	result := CheckWorkflow(wf)
	require.False(t, result.Valid())

	paths := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		paths = append(paths, issue.Path)
	}
	assert.Contains(t, paths, "steps/0/pipeline")
	assert.Contains(t, paths, "steps/0/query")
	assert.Contains(t, paths, "steps/0/topK")
}

func TestCheckWorkflow_TransformChecks(t *testing.T) {
	wf := &schema.Workflow{
		ID: "transform",
		Steps: schema.StepList{
			&schema.TransformStep{ID: "shape", Input: schema.Variable("doc"), Output: ReservedInputName},
		},
	}

	result := CheckWorkflow(wf)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "steps/0/expression", result.Errors[0].Path)
	assert.Equal(t, "steps/0/output", result.Errors[1].Path)
	assert.Contains(t, result.Errors[1].Message, "reserved")
}

func TestCheckWorkflow_VariableInputWithoutName(t *testing.T) {
	wf := &schema.Workflow{
		ID: "input",
		Steps: schema.StepList{
			&schema.AgentStep{ID: "work", Input: schema.Variable("")},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/input", issue.Path)
	assert.Contains(t, issue.Message, "name")
}

func TestCheckWorkflow_ExpressionInputWithoutText(t *testing.T) {
	wf := &schema.Workflow{
		ID: "input",
		Steps: schema.StepList{
			&schema.AgentStep{ID: "work", Input: schema.Expression("")},
		},
	}

	issue := firstError(t, CheckWorkflow(wf))
	assert.Equal(t, "steps/0/input", issue.Path)
	assert.Contains(t, issue.Message, "expression")
}
