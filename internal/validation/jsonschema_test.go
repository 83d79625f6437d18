package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/pkg/schema"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestNewValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.workflowSchema)
}

func TestValidateDefinition_MinimalValid(t *testing.T) {
	v := newValidator(t)

	wf, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "hello",
		"steps": [
			{"id": "greet", "type": "agent", "input": {"literal": "say hello"}}
		]
	}`))
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, "hello", wf.ID)
	require.Len(t, wf.Steps, 1)

	agent, ok := wf.Steps[0].(*schema.AgentStep)
	require.True(t, ok)
	assert.Equal(t, "greet", agent.ID)
	assert.Equal(t, "say hello", agent.Input.Value())
}

func TestValidateDefinition_EveryStepKind(t *testing.T) {
	v := newValidator(t)

	wf, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "kitchen-sink",
		"name": "Kitchen sink",
		"timeout": "1h30m",
		"steps": [
			{"id": "draft", "type": "agent", "input": {"literal": "write"}, "output": "draft"},
			{"id": "fetch", "type": "tool", "toolName": "http.request", "input": {"variable": "request"}, "output": "response"},
			{"id": "gate", "type": "conditional", "condition": "${approved}", "then": [
				{"id": "publish", "type": "agent", "input": {"variable": "draft"}}
			], "else": [
				{"id": "review", "type": "human_in_the_loop", "prompt": "Approve?", "options": ["yes", "no"]}
			]},
			{"id": "fanout", "type": "parallel", "branches": [
				[{"id": "branch-a", "type": "agent", "input": {"literal": "a"}}],
				[{"id": "branch-b", "type": "agent", "input": {"literal": "b"}}]
			]},
			{"id": "each", "type": "loop", "collection": {"variable": "items"}, "itemVariable": "item", "maxIterations": 10, "steps": [
				{"id": "handle", "type": "agent", "input": {"variable": "item"}}
			]},
			{"id": "lookup", "type": "rag", "pipeline": "docs", "query": {"literal": "runbook"}, "topK": 3, "output": "context"},
			{"id": "shape", "type": "transform", "input": {"variable": "response"}, "expression": "${$input}", "output": "shaped"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, wf.Steps, 7)
	assert.Equal(t, schema.KindTool, wf.Steps[1].Kind())
	assert.Equal(t, schema.KindParallel, wf.Steps[3].Kind())
	assert.Equal(t, schema.KindTransform, wf.Steps[6].Kind())
}

func TestValidateDefinition_Empty(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(nil)
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
	assert.Contains(t, werr.Message, "empty")
}

func TestValidateDefinition_MalformedJSON(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{"id": "broken",`))
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
	assert.Contains(t, werr.Message, "JSON")
}

func TestValidateDefinition_MissingSteps(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{"id": "no-steps"}`))
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)

	violations, ok := werr.Details["violations"].([]string)
	require.True(t, ok)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "steps")
}

func TestValidateDefinition_UnknownStepType(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "bad-kind",
		"steps": [{"id": "x", "type": "teleport"}]
	}`))
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)

	violations := werr.Details["violations"].([]string)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "/steps/0")
}

func TestValidateDefinition_UnknownTopLevelField(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "extra",
		"stepss": [],
		"steps": [{"id": "x", "type": "agent", "input": {"literal": 1}}]
	}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateDefinition_ToolMissingToolName(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "tool",
		"steps": [{"id": "call", "type": "tool", "input": {"literal": {}}}]
	}`))
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	violations := werr.Details["violations"].([]string)
	found := false
	for _, violation := range violations {
		if strings.Contains(violation, "/steps/0") && strings.Contains(violation, "toolName") {
			found = true
		}
	}
	assert.True(t, found, "expected a violation mentioning toolName, got %v", violations)
}

func TestValidateDefinition_BadTimeoutPattern(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "t",
		"timeout": "ninety seconds",
		"steps": [{"id": "x", "type": "agent", "input": {"literal": 1}}]
	}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateDefinition_CompoundTimeoutAccepted(t *testing.T) {
	v := newValidator(t)

	wf, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "t",
		"timeout": "1h30m10s",
		"steps": [{"id": "x", "type": "agent", "input": {"literal": 1}}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "1h30m10s", wf.Timeout)
}

func TestValidateDefinition_InputWithTwoKeys(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "two-keys",
		"steps": [{"id": "x", "type": "agent", "input": {"literal": 1, "variable": "y"}}]
	}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateDefinition_SemanticLayerRuns(t *testing.T) {
	v := newValidator(t)

	// Shape is fine; the duplicate id is only caught semantically.
	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "dup",
		"steps": [
			{"id": "same", "type": "agent", "input": {"literal": 1}},
			{"id": "same", "type": "agent", "input": {"literal": 2}}
		]
	}`))
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
	assert.Contains(t, werr.Message, "duplicate step id")
}

func TestValidateDefinition_MultipleViolationsSummarized(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateDefinition(json.RawMessage(`{
		"id": "many",
		"steps": [
			{"id": "a", "type": "tool", "input": {"literal": 1}},
			{"id": "b", "type": "conditional", "condition": "${x}"}
		]
	}`))
	require.Error(t, err)

	werr, ok := schema.AsError(err)
	require.True(t, ok)
	violations := werr.Details["violations"].([]string)
	assert.GreaterOrEqual(t, len(violations), 2)
	assert.Contains(t, werr.Message, "violations")
}

func TestValidateWorkflow_Decoded(t *testing.T) {
	v := newValidator(t)

	assert.NoError(t, v.ValidateWorkflow(validWorkflow()))

	wf := validWorkflow()
	wf.ID = ""
	err := v.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
