package schema

import (
	"encoding/json"
	"fmt"
)

// Workflow is the immutable definition of an automation plan: an ordered
// sequence of steps plus an optional overall timeout. Definitions are built
// by an external author (or parsed from JSON) and never mutated at runtime.
type Workflow struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Steps   StepList `json:"steps"`
	Timeout string   `json:"timeout,omitempty"` // duration string, e.g. "90s", "5m"
}

// StepKind discriminates the closed set of step variants.
type StepKind string

const (
	KindAgent       StepKind = "agent"
	KindTool        StepKind = "tool"
	KindConditional StepKind = "conditional"
	KindParallel    StepKind = "parallel"
	KindLoop        StepKind = "loop"
	KindHuman       StepKind = "human_in_the_loop"
	KindRAG         StepKind = "rag"
	KindTransform   StepKind = "transform"
)

// Step is one unit of work within a workflow. The set of implementations is
// closed: only the eight kinds declared in this package satisfy it, so a
// type switch over Step covers every case and unknown kinds cannot reach
// the dispatcher (they are rejected when a definition is decoded).
type Step interface {
	StepID() string
	Kind() StepKind
	isStep()
}

// AgentStep delegates its resolved input to the agent collaborator.
type AgentStep struct {
	ID     string    `json:"id"`
	Input  StepInput `json:"input"`
	Output string    `json:"output,omitempty"`
}

// ToolStep invokes a named tool from the tool catalog with its resolved input.
type ToolStep struct {
	ID       string    `json:"id"`
	ToolName string    `json:"toolName"`
	Input    StepInput `json:"input"`
	Output   string    `json:"output,omitempty"`
}

// ConditionalStep evaluates an expression and runs the then or else branch
// against the shared execution state.
type ConditionalStep struct {
	ID        string   `json:"id"`
	Condition string   `json:"condition"`
	Then      StepList `json:"then"`
	Else      StepList `json:"else,omitempty"`
}

// ParallelStep runs each branch concurrently against an isolated copy of the
// execution's variables. Its output is the ordered list of branch variable
// maps, in declaration order.
type ParallelStep struct {
	ID       string     `json:"id"`
	Branches []StepList `json:"branches"`
}

// LoopStep iterates a resolved collection, binding ItemVariable to each
// element in the shared execution variables before running the body.
type LoopStep struct {
	ID            string    `json:"id"`
	Collection    StepInput `json:"collection"`
	ItemVariable  string    `json:"itemVariable"`
	MaxIterations int       `json:"maxIterations,omitempty"`
	Steps         StepList  `json:"steps"`
}

// HumanStep blocks the run on the human-checkpoint collaborator; its output
// is the raw string the human supplied.
type HumanStep struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// RAGStep resolves a text query and runs it through a named retrieval
// pipeline.
type RAGStep struct {
	ID       string    `json:"id"`
	Pipeline string    `json:"pipeline"`
	Query    StepInput `json:"query"`
	TopK     int       `json:"topK,omitempty"`
	Output   string    `json:"output,omitempty"`
}

// TransformStep evaluates an expression against the variables extended with
// the reserved $input binding holding the resolved input.
type TransformStep struct {
	ID         string    `json:"id"`
	Input      StepInput `json:"input"`
	Expression string    `json:"expression"`
	Output     string    `json:"output,omitempty"`
}

func (s *AgentStep) StepID() string       { return s.ID }
func (s *ToolStep) StepID() string        { return s.ID }
func (s *ConditionalStep) StepID() string { return s.ID }
func (s *ParallelStep) StepID() string    { return s.ID }
func (s *LoopStep) StepID() string        { return s.ID }
func (s *HumanStep) StepID() string       { return s.ID }
func (s *RAGStep) StepID() string         { return s.ID }
func (s *TransformStep) StepID() string   { return s.ID }

func (s *AgentStep) Kind() StepKind       { return KindAgent }
func (s *ToolStep) Kind() StepKind        { return KindTool }
func (s *ConditionalStep) Kind() StepKind { return KindConditional }
func (s *ParallelStep) Kind() StepKind    { return KindParallel }
func (s *LoopStep) Kind() StepKind        { return KindLoop }
func (s *HumanStep) Kind() StepKind       { return KindHuman }
func (s *RAGStep) Kind() StepKind         { return KindRAG }
func (s *TransformStep) Kind() StepKind   { return KindTransform }

func (*AgentStep) isStep()       {}
func (*ToolStep) isStep()        {}
func (*ConditionalStep) isStep() {}
func (*ParallelStep) isStep()    {}
func (*LoopStep) isStep()        {}
func (*HumanStep) isStep()       {}
func (*RAGStep) isStep()         {}
func (*TransformStep) isStep()   {}

func (s *AgentStep) MarshalJSON() ([]byte, error) {
	type alias AgentStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindAgent, (*alias)(s)})
}

func (s *ToolStep) MarshalJSON() ([]byte, error) {
	type alias ToolStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindTool, (*alias)(s)})
}

func (s *ConditionalStep) MarshalJSON() ([]byte, error) {
	type alias ConditionalStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindConditional, (*alias)(s)})
}

func (s *ParallelStep) MarshalJSON() ([]byte, error) {
	type alias ParallelStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindParallel, (*alias)(s)})
}

func (s *LoopStep) MarshalJSON() ([]byte, error) {
	type alias LoopStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindLoop, (*alias)(s)})
}

func (s *HumanStep) MarshalJSON() ([]byte, error) {
	type alias HumanStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindHuman, (*alias)(s)})
}

func (s *RAGStep) MarshalJSON() ([]byte, error) {
	type alias RAGStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindRAG, (*alias)(s)})
}

func (s *TransformStep) MarshalJSON() ([]byte, error) {
	type alias TransformStep
	return json.Marshal(struct {
		Type StepKind `json:"type"`
		*alias
	}{KindTransform, (*alias)(s)})
}

// StepList is an ordered sequence of steps. It owns the polymorphic JSON
// decoding: each element is an object discriminated by its "type" field.
type StepList []Step

func (l *StepList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	steps := make(StepList, 0, len(raws))
	for i, raw := range raws {
		step, err := DecodeStep(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*l = steps
	return nil
}

// DecodeStep decodes a single JSON step object into its concrete kind.
// Unknown or missing type tags are rejected here, before anything reaches
// the dispatcher.
func DecodeStep(raw json.RawMessage) (Step, error) {
	var head struct {
		Type StepKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, NewError(ErrCodeValidation, "step is not a JSON object").WithCause(err)
	}

	var step Step
	switch head.Type {
	case KindAgent:
		step = &AgentStep{}
	case KindTool:
		step = &ToolStep{}
	case KindConditional:
		step = &ConditionalStep{}
	case KindParallel:
		step = &ParallelStep{}
	case KindLoop:
		step = &LoopStep{}
	case KindHuman:
		step = &HumanStep{}
	case KindRAG:
		step = &RAGStep{}
	case KindTransform:
		step = &TransformStep{}
	case "":
		return nil, NewError(ErrCodeValidation, "step is missing a type tag")
	default:
		return nil, NewErrorf(ErrCodeValidation, "unknown step type %q", head.Type)
	}

	if err := json.Unmarshal(raw, step); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "malformed %s step", head.Type).WithCause(err)
	}
	return step, nil
}

// InputKind discriminates the three StepInput variants.
type InputKind string

const (
	InputLiteral    InputKind = "literal"
	InputVariable   InputKind = "variable"
	InputExpression InputKind = "expression"
)

// StepInput is a declared step input: a literal value, a reference to an
// execution variable, or an expression for the evaluator. The fields are
// unexported so the only way to build one is through the three
// constructors; resolution is a pure read and never mutates state.
type StepInput struct {
	kind       InputKind
	literal    any
	variable   string
	expression string
}

// Literal returns a StepInput carrying the value unchanged.
func Literal(v any) StepInput {
	return StepInput{kind: InputLiteral, literal: v}
}

// Variable returns a StepInput that resolves to the named execution variable.
func Variable(name string) StepInput {
	return StepInput{kind: InputVariable, variable: name}
}

// Expression returns a StepInput evaluated by the configured evaluator.
func Expression(text string) StepInput {
	return StepInput{kind: InputExpression, expression: text}
}

// Kind reports which variant this input is; empty for the zero value.
func (in StepInput) Kind() InputKind { return in.kind }

// Value returns the embedded literal value.
func (in StepInput) Value() any { return in.literal }

// VarName returns the referenced variable name.
func (in StepInput) VarName() string { return in.variable }

// Text returns the expression source.
func (in StepInput) Text() string { return in.expression }

// IsZero reports whether the input was never set.
func (in StepInput) IsZero() bool { return in.kind == "" }

func (in StepInput) MarshalJSON() ([]byte, error) {
	switch in.kind {
	case InputLiteral:
		return json.Marshal(map[string]any{"literal": in.literal})
	case InputVariable:
		return json.Marshal(map[string]string{"variable": in.variable})
	case InputExpression:
		return json.Marshal(map[string]string{"expression": in.expression})
	default:
		return []byte("null"), nil
	}
}

func (in *StepInput) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*in = StepInput{}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return NewError(ErrCodeValidation, "step input must be an object with a literal, variable, or expression key").WithCause(err)
	}
	if len(fields) != 1 {
		return NewErrorf(ErrCodeValidation, "step input must have exactly one of literal, variable, expression; got %d keys", len(fields))
	}

	if raw, ok := fields["literal"]; ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*in = Literal(v)
		return nil
	}
	if raw, ok := fields["variable"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil || name == "" {
			return NewError(ErrCodeValidation, "variable input requires a non-empty name")
		}
		*in = Variable(name)
		return nil
	}
	if raw, ok := fields["expression"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return NewError(ErrCodeValidation, "expression input requires a string")
		}
		*in = Expression(text)
		return nil
	}

	for k := range fields {
		return NewErrorf(ErrCodeValidation, "unknown step input key %q", k)
	}
	return nil
}
