package diagram

import (
	"fmt"
	"strings"

	"github.com/weft-run/weft/pkg/schema"
)

// Mermaid renders a workflow definition as a Mermaid flowchart. When exec
// is non-nil its step records color the nodes, with the latest record
// winning for steps that ran more than once.
func Mermaid(wf *schema.Workflow, exec *schema.Execution) string {
	r := &renderer{status: statusIndex(exec)}

	r.b.WriteString("graph TD\n")
	title := wf.Name
	if title == "" {
		title = wf.ID
	}
	r.line(1, "%% "+title)

	r.line(1, `start(["start"])`)
	last := r.walk(1, "start", wf.Steps)
	r.line(1, `finish(["end"])`)
	r.line(1, fmt.Sprintf("%s --> finish", last))

	r.b.WriteString("\n")
	r.line(1, "classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff")
	r.line(1, "classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff")
	r.line(1, "classDef running fill:#1a5276,stroke:#0e3a52,color:#fff")
	r.line(1, "classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5")
	for _, cls := range r.classes {
		r.line(1, cls)
	}

	return r.b.String()
}

type renderer struct {
	b       strings.Builder
	status  map[string]schema.StepStatus
	classes []string
}

func (r *renderer) line(indent int, s string) {
	r.b.WriteString(strings.Repeat("    ", indent))
	r.b.WriteString(s)
	r.b.WriteString("\n")
}

// walk emits one chain of steps, linking each node to the previous one,
// and returns the id of the last node in the chain.
func (r *renderer) walk(indent int, prev string, steps schema.StepList) string {
	for _, step := range steps {
		id := safeID(step.StepID())
		r.line(indent, nodeDef(step))
		r.mark(step.StepID())
		if prev != "" {
			r.line(indent, fmt.Sprintf("%s --> %s", prev, id))
		}

		switch s := step.(type) {
		case *schema.ConditionalStep:
			r.branch(indent, id, "then", s.Then)
			if len(s.Else) > 0 {
				r.branch(indent, id, "else", s.Else)
			}
		case *schema.ParallelStep:
			for i, body := range s.Branches {
				r.branch(indent, id, fmt.Sprintf("branch %d", i+1), body)
			}
		case *schema.LoopStep:
			r.branch(indent, id, "each "+s.ItemVariable, s.Steps)
		}

		prev = id
	}
	return prev
}

// branch wraps a nested step chain in a subgraph and draws the labeled
// entry edge from the owning composite node.
func (r *renderer) branch(indent int, parent, label string, body schema.StepList) {
	if len(body) == 0 {
		return
	}
	sgID := safeID(parent + "_" + label)
	r.line(indent, fmt.Sprintf("subgraph %s[%q]", sgID, label))
	r.walk(indent+1, "", body)
	r.line(indent, "end")
	r.line(indent, fmt.Sprintf("%s -->|%s| %s", parent, label, safeID(body[0].StepID())))
}

func (r *renderer) mark(stepID string) {
	status, ok := r.status[stepID]
	if !ok {
		return
	}
	r.classes = append(r.classes, fmt.Sprintf("class %s %s", safeID(stepID), status))
}

// nodeDef picks the Mermaid shape for a step kind: diamonds for branches,
// hexagons for agent calls, stadiums for human checkpoints, subroutine
// boxes for composites, plain boxes for the rest.
func nodeDef(step schema.Step) string {
	id := safeID(step.StepID())
	label := nodeLabel(step)

	switch step.Kind() {
	case schema.KindConditional:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.KindAgent:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case schema.KindHuman:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.KindParallel, schema.KindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

func nodeLabel(step schema.Step) string {
	switch s := step.(type) {
	case *schema.ToolStep:
		return s.ID + ": " + s.ToolName
	case *schema.RAGStep:
		return s.ID + ": " + s.Pipeline
	default:
		return step.StepID()
	}
}

// safeID flattens a step id into an identifier Mermaid accepts.
func safeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// statusIndex maps step id to its latest recorded status.
func statusIndex(exec *schema.Execution) map[string]schema.StepStatus {
	if exec == nil {
		return nil
	}
	idx := make(map[string]schema.StepStatus, len(exec.StepHistory))
	for _, rec := range exec.StepHistory {
		idx[rec.StepID] = rec.Status
	}
	return idx
}
