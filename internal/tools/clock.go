package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weft-run/weft/pkg/schema"
)

const timeNowInputSchema = `{
  "type": "object",
  "properties": {
    "location": {"type": "string", "default": "UTC"},
    "format": {"type": "string"}
  }
}`

// TimeTool implements the "time.now" builtin.
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates the time.now tool.
func NewTimeTool() *TimeTool {
	return &TimeTool{now: time.Now}
}

func (t *TimeTool) Name() string { return "time.now" }

func (t *TimeTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Return the current time. Accepts an optional IANA location and Go layout string.",
		Input:       json.RawMessage(timeNowInputSchema),
	}
}

func (t *TimeTool) Execute(ctx context.Context, input any) (any, error) {
	params, err := objectInput("time.now", input)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if name := stringParam(params, "location", ""); name != "" {
		loc, err = time.LoadLocation(name)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "time.now: unknown location %q", name).WithCause(err)
		}
	}

	now := t.now().In(loc)
	result := map[string]any{
		"rfc3339": now.Format(time.RFC3339),
		"unix":    now.Unix(),
		"unix_ms": now.UnixMilli(),
		"weekday": now.Weekday().String(),
	}
	if layout := stringParam(params, "format", ""); layout != "" {
		result["formatted"] = now.Format(layout)
	}
	return result, nil
}

var _ Tool = (*TimeTool)(nil)
