package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepList_DecodeAllKinds(t *testing.T) {
	raw := `[
		{"type": "agent", "id": "a1", "input": {"variable": "question"}, "output": "answer"},
		{"type": "tool", "id": "t1", "toolName": "http.request", "input": {"literal": {"url": "https://example.com"}}},
		{"type": "conditional", "id": "c1", "condition": "${ready}", "then": [{"type": "transform", "id": "c1a", "input": {"literal": 1}, "expression": "${$input}"}]},
		{"type": "parallel", "id": "p1", "branches": [[{"type": "transform", "id": "b1", "input": {"literal": 1}, "expression": "${$input}"}], []]},
		{"type": "loop", "id": "l1", "collection": {"variable": "items"}, "itemVariable": "item", "maxIterations": 3, "steps": []},
		{"type": "human_in_the_loop", "id": "h1", "prompt": "approve?", "options": ["yes", "no"]},
		{"type": "rag", "id": "r1", "pipeline": "docs", "query": {"expression": "about ${topic}"}, "topK": 5, "output": "context"},
		{"type": "transform", "id": "x1", "input": {"variable": "raw"}, "expression": "${$input}", "output": "clean"}
	]`

	var steps StepList
	require.NoError(t, json.Unmarshal([]byte(raw), &steps))
	require.Len(t, steps, 8)

	kinds := []StepKind{KindAgent, KindTool, KindConditional, KindParallel, KindLoop, KindHuman, KindRAG, KindTransform}
	for i, step := range steps {
		assert.Equal(t, kinds[i], step.Kind(), "step %d", i)
	}

	agent, ok := steps[0].(*AgentStep)
	require.True(t, ok)
	assert.Equal(t, "a1", agent.StepID())
	assert.Equal(t, InputVariable, agent.Input.Kind())
	assert.Equal(t, "question", agent.Input.VarName())
	assert.Equal(t, "answer", agent.Output)

	tool := steps[1].(*ToolStep)
	assert.Equal(t, "http.request", tool.ToolName)
	assert.Equal(t, InputLiteral, tool.Input.Kind())

	cond := steps[2].(*ConditionalStep)
	require.Len(t, cond.Then, 1)
	assert.Nil(t, cond.Else)

	par := steps[3].(*ParallelStep)
	require.Len(t, par.Branches, 2)
	assert.Len(t, par.Branches[0], 1)
	assert.Len(t, par.Branches[1], 0)

	loop := steps[4].(*LoopStep)
	assert.Equal(t, "item", loop.ItemVariable)
	assert.Equal(t, 3, loop.MaxIterations)

	human := steps[5].(*HumanStep)
	assert.Equal(t, []string{"yes", "no"}, human.Options)

	ragStep := steps[6].(*RAGStep)
	assert.Equal(t, "docs", ragStep.Pipeline)
	assert.Equal(t, 5, ragStep.TopK)
}

func TestStepList_RoundTrip(t *testing.T) {
	wf := &Workflow{
		ID: "wf-1",
		Steps: StepList{
			&AgentStep{ID: "ask", Input: Variable("question"), Output: "answer"},
			&ConditionalStep{
				ID:        "check",
				Condition: "${answer}",
				Then:      StepList{&ToolStep{ID: "notify", ToolName: "http.request", Input: Literal("ok")}},
				Else:      StepList{&HumanStep{ID: "review", Prompt: "escalate?"}},
			},
		},
		Timeout: "90s",
	}

	data, err := json.Marshal(wf)
	require.NoError(t, err)

	var decoded Workflow
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "wf-1", decoded.ID)
	assert.Equal(t, "90s", decoded.Timeout)
	require.Len(t, decoded.Steps, 2)
	assert.Equal(t, KindAgent, decoded.Steps[0].Kind())

	cond, ok := decoded.Steps[1].(*ConditionalStep)
	require.True(t, ok)
	require.Len(t, cond.Then, 1)
	require.Len(t, cond.Else, 1)
	assert.Equal(t, "review", cond.Else[0].StepID())
}

func TestDecodeStep_UnknownType(t *testing.T) {
	_, err := DecodeStep(json.RawMessage(`{"type": "teleport", "id": "x"}`))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))
	assert.Contains(t, err.Error(), "teleport")
}

func TestDecodeStep_MissingType(t *testing.T) {
	_, err := DecodeStep(json.RawMessage(`{"id": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a type tag")
}

func TestStepList_BadElementIndexed(t *testing.T) {
	var steps StepList
	err := json.Unmarshal([]byte(`[{"type": "agent", "id": "a"}, {"type": "nope"}]`), &steps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}

func TestStepInput_Constructors(t *testing.T) {
	lit := Literal(42)
	assert.Equal(t, InputLiteral, lit.Kind())
	assert.Equal(t, 42, lit.Value())

	v := Variable("x")
	assert.Equal(t, InputVariable, v.Kind())
	assert.Equal(t, "x", v.VarName())

	e := Expression("${x}")
	assert.Equal(t, InputExpression, e.Kind())
	assert.Equal(t, "${x}", e.Text())

	var zero StepInput
	assert.True(t, zero.IsZero())
	assert.False(t, lit.IsZero())
}

func TestStepInput_JSONForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind InputKind
	}{
		{"literal scalar", `{"literal": 7}`, InputLiteral},
		{"literal null", `{"literal": null}`, InputLiteral},
		{"literal object", `{"literal": {"a": 1}}`, InputLiteral},
		{"variable", `{"variable": "items"}`, InputVariable},
		{"expression", `{"expression": "${a} and ${b}"}`, InputExpression},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var in StepInput
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &in))
			assert.Equal(t, tc.kind, in.Kind())

			// Round-trip stays in the same variant.
			data, err := json.Marshal(in)
			require.NoError(t, err)
			var again StepInput
			require.NoError(t, json.Unmarshal(data, &again))
			assert.Equal(t, tc.kind, again.Kind())
		})
	}
}

func TestStepInput_RejectsMultipleKeys(t *testing.T) {
	var in StepInput
	err := json.Unmarshal([]byte(`{"literal": 1, "variable": "x"}`), &in)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))
}

func TestStepInput_RejectsUnknownKey(t *testing.T) {
	var in StepInput
	err := json.Unmarshal([]byte(`{"constant": 1}`), &in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constant")
}

func TestStepInput_NullIsZero(t *testing.T) {
	var in StepInput
	require.NoError(t, json.Unmarshal([]byte(`null`), &in))
	assert.True(t, in.IsZero())
}
