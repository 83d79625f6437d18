package validation

import (
	"fmt"
	"time"

	"github.com/weft-run/weft/pkg/schema"
)

// ReservedInputName is bound by the transform executor for the duration of
// one evaluation; workflows may not claim it for their own variables.
const ReservedInputName = "$input"

// CheckWorkflow performs the semantic checks JSON Schema cannot express:
// step ids unique across every nesting level, non-empty branches and
// bodies, reserved names, and value bounds. It works on decoded workflows,
// so both the MCP define path and programmatic engine callers share it.
func CheckWorkflow(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf == nil {
		result.AddError("", schema.ErrCodeValidation, "workflow is nil")
		return result
	}
	if wf.ID == "" {
		result.AddError("id", schema.ErrCodeValidation, "workflow id is required")
	}
	if wf.Timeout != "" {
		if d, err := time.ParseDuration(wf.Timeout); err != nil {
			result.AddError("timeout", schema.ErrCodeValidation,
				fmt.Sprintf("invalid timeout %q", wf.Timeout))
		} else if d <= 0 {
			result.AddError("timeout", schema.ErrCodeValidation,
				fmt.Sprintf("timeout %q must be positive", wf.Timeout))
		}
	}
	if len(wf.Steps) == 0 {
		result.AddError("steps", schema.ErrCodeValidation, "workflow has no steps")
		return result
	}

	seen := make(map[string]string) // step id → path of first occurrence
	checkSteps(wf.Steps, "steps", seen, result)
	return result
}

func checkSteps(steps schema.StepList, path string, seen map[string]string, result *schema.ValidationResult) {
	for i, step := range steps {
		checkStep(step, fmt.Sprintf("%s/%d", path, i), seen, result)
	}
}

func checkStep(step schema.Step, path string, seen map[string]string, result *schema.ValidationResult) {
	if step == nil {
		result.AddError(path, schema.ErrCodeValidation, "step is nil")
		return
	}

	id := step.StepID()
	if id == "" {
		result.AddError(path+"/id", schema.ErrCodeValidation, "step id is required")
	} else if firstPath, dup := seen[id]; dup {
		result.AddError(path+"/id", schema.ErrCodeValidation,
			fmt.Sprintf("duplicate step id %q (first used at %s)", id, firstPath))
	} else {
		seen[id] = path
	}

	switch s := step.(type) {
	case *schema.AgentStep:
		checkInput(s.Input, path+"/input", result)
		checkOutputName(s.Output, path+"/output", result)

	case *schema.ToolStep:
		if s.ToolName == "" {
			result.AddError(path+"/toolName", schema.ErrCodeValidation, "tool step requires a tool name")
		}
		checkInput(s.Input, path+"/input", result)
		checkOutputName(s.Output, path+"/output", result)

	case *schema.ConditionalStep:
		if s.Condition == "" {
			result.AddError(path+"/condition", schema.ErrCodeValidation, "conditional step requires a condition")
		}
		if len(s.Then) == 0 {
			result.AddError(path+"/then", schema.ErrCodeValidation, "conditional step requires a non-empty then branch")
		}
		checkSteps(s.Then, path+"/then", seen, result)
		checkSteps(s.Else, path+"/else", seen, result)

	case *schema.ParallelStep:
		if len(s.Branches) == 0 {
			result.AddError(path+"/branches", schema.ErrCodeValidation, "parallel step requires at least one branch")
		}
		for i, branch := range s.Branches {
			branchPath := fmt.Sprintf("%s/branches/%d", path, i)
			if len(branch) == 0 {
				result.AddError(branchPath, schema.ErrCodeValidation, "parallel branch is empty")
			}
			checkSteps(branch, branchPath, seen, result)
		}

	case *schema.LoopStep:
		checkInput(s.Collection, path+"/collection", result)
		if s.ItemVariable == "" {
			result.AddError(path+"/itemVariable", schema.ErrCodeValidation, "loop step requires an item variable")
		} else if s.ItemVariable == ReservedInputName {
			result.AddError(path+"/itemVariable", schema.ErrCodeValidation,
				fmt.Sprintf("%q is reserved and cannot be an item variable", ReservedInputName))
		}
		if s.MaxIterations < 0 {
			result.AddError(path+"/maxIterations", schema.ErrCodeValidation, "maxIterations cannot be negative")
		}
		if len(s.Steps) == 0 {
			result.AddError(path+"/steps", schema.ErrCodeValidation, "loop step requires a non-empty body")
		}
		checkSteps(s.Steps, path+"/steps", seen, result)

	case *schema.HumanStep:
		if s.Prompt == "" {
			result.AddError(path+"/prompt", schema.ErrCodeValidation, "human checkpoint requires a prompt")
		}
		for i, opt := range s.Options {
			if opt == "" {
				result.AddError(fmt.Sprintf("%s/options/%d", path, i),
					schema.ErrCodeValidation, "checkpoint option cannot be empty")
			}
		}

	case *schema.RAGStep:
		if s.Pipeline == "" {
			result.AddError(path+"/pipeline", schema.ErrCodeValidation, "rag step requires a pipeline name")
		}
		checkInput(s.Query, path+"/query", result)
		if s.TopK < 0 {
			result.AddError(path+"/topK", schema.ErrCodeValidation, "topK cannot be negative")
		}
		checkOutputName(s.Output, path+"/output", result)

	case *schema.TransformStep:
		checkInput(s.Input, path+"/input", result)
		if s.Expression == "" {
			result.AddError(path+"/expression", schema.ErrCodeValidation, "transform step requires an expression")
		}
		checkOutputName(s.Output, path+"/output", result)
	}
}

func checkInput(in schema.StepInput, path string, result *schema.ValidationResult) {
	if in.IsZero() {
		result.AddError(path, schema.ErrCodeValidation, "input is required")
		return
	}
	switch in.Kind() {
	case schema.InputVariable:
		if in.VarName() == "" {
			result.AddError(path, schema.ErrCodeValidation, "variable input requires a name")
		}
	case schema.InputExpression:
		if in.Text() == "" {
			result.AddError(path, schema.ErrCodeValidation, "expression input requires an expression")
		}
	}
}

func checkOutputName(name, path string, result *schema.ValidationResult) {
	if name == ReservedInputName {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("%q is reserved and cannot be an output name", ReservedInputName))
	}
}
