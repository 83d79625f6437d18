package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/weft-run/weft/internal/catalog"
	"github.com/weft-run/weft/internal/checkpoint"
	"github.com/weft-run/weft/internal/validation"
	"github.com/weft-run/weft/pkg/schema"
)

// handleDefine validates a workflow definition and catalogs it.
func (s *WeftServer) handleDefine(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	wf, err := s.decodeDefinition(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	if s.catalog == nil {
		return mcp.NewToolResultError("no catalog configured"), nil
	}
	entry, putErr := s.catalog.Put(wf)
	if putErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to catalog workflow: %v", putErr)), nil
	}

	return marshalResult(map[string]any{
		"name":    entry.Name,
		"version": entry.Version,
		"ref":     entry.Ref(),
	})
}

// handleRun starts a workflow run from an inline definition or a cataloged
// reference. The run continues in the background; the result carries the
// execution id to follow it with.
func (s *WeftServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := req.GetString("workflow", "")
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	input := mcp.ParseStringMap(req, "input", nil)

	if ref == "" && defRaw == nil {
		return mcp.NewToolResultError("either workflow or definition is required"), nil
	}
	if ref != "" && defRaw != nil {
		return mcp.NewToolResultError("workflow and definition are mutually exclusive"), nil
	}

	var wf *schema.Workflow
	if defRaw != nil {
		decoded, err := s.decodeDefinition(defRaw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		wf = decoded
	} else {
		resolved, err := s.resolveWorkflow(ref)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
		}
		wf = resolved
	}

	exec, err := s.engine.Start(ctx, wf, input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start run: %v", err)), nil
	}

	// Route push notifications for this run to the calling session.
	s.captureSession(ctx, exec.ID)

	return marshalResult(map[string]any{
		"executionId": exec.ID,
		"workflowId":  exec.WorkflowID,
		"status":      exec.Status,
	})
}

// handleStatus returns the current snapshot of one execution.
func (s *WeftServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.engine.Get(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}
	return marshalResult(exec)
}

// handleSignal applies a control action to a run: pause, resume, cancel, or
// respond to a pending human checkpoint.
func (s *WeftServer) handleSignal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	s.captureSession(ctx, executionID)

	switch action {
	case "pause":
		if pauseErr := s.engine.Pause(ctx, executionID); pauseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pause failed: %v", pauseErr)), nil
		}
		return signalResult(executionID, action, schema.StatusPaused)

	case "resume":
		input := mcp.ParseStringMap(req, "input", nil)
		exec, resumeErr := s.engine.Resume(ctx, executionID, input)
		if resumeErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
		}
		return signalResult(executionID, action, exec.Status)

	case "cancel":
		if cancelErr := s.engine.Cancel(ctx, executionID); cancelErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
		}
		return signalResult(executionID, action, schema.StatusCancelled)

	case "respond":
		answer, ansErr := req.RequireString("answer")
		if ansErr != nil {
			return mcp.NewToolResultError("answer is required for respond"), nil
		}
		if s.broker == nil {
			return mcp.NewToolResultError("no checkpoint broker configured"), nil
		}
		checkpointID := req.GetString("checkpoint_id", "")
		var respErr error
		if checkpointID != "" {
			respErr = s.broker.Resolve(checkpointID, answer)
		} else {
			respErr = s.broker.ResolveExecution(executionID, answer)
		}
		if respErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("respond failed: %v", respErr)), nil
		}
		return marshalResult(map[string]any{
			"ok":          true,
			"executionId": executionID,
			"action":      action,
		})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// handleQuery lists executions, checkpoints, events, or cataloged workflows.
func (s *WeftServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "active":
		return s.queryActive(ctx)
	case "checkpoints":
		return s.queryCheckpoints()
	case "events":
		return s.queryEvents(ctx, filter)
	case "workflows":
		return s.queryWorkflows(filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *WeftServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	workflowID, _ := filter["workflow_id"].(string)
	execs, err := s.engine.List(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	if status, ok := filter["status"].(string); ok && status != "" {
		filtered := execs[:0]
		for _, exec := range execs {
			if string(exec.Status) == status {
				filtered = append(filtered, exec)
			}
		}
		execs = filtered
	}
	if limit := extractInt(filter, "limit", 50); limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	if execs == nil {
		execs = []*schema.Execution{}
	}
	return marshalResult(map[string]any{"executions": execs})
}

func (s *WeftServer) queryActive(ctx context.Context) (*mcp.CallToolResult, error) {
	execs, err := s.engine.ListActive(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if execs == nil {
		execs = []*schema.Execution{}
	}
	return marshalResult(map[string]any{"executions": execs})
}

func (s *WeftServer) queryCheckpoints() (*mcp.CallToolResult, error) {
	pending := []checkpoint.Pending{}
	if s.broker != nil {
		pending = s.broker.Pending()
	}
	return marshalResult(map[string]any{"checkpoints": pending})
}

func (s *WeftServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID, _ := filter["execution_id"].(string)
	if executionID == "" {
		return mcp.NewToolResultError("event query requires 'execution_id' in filter"), nil
	}
	if s.journal == nil {
		return mcp.NewToolResultError("event query requires a journal (set WEFT_JOURNAL)"), nil
	}

	since := int64(extractInt(filter, "since_seq", 0))
	events, err := s.journal.Events(ctx, executionID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *WeftServer) queryWorkflows(filter map[string]any) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return marshalResult(map[string]any{"workflows": []any{}})
	}

	var entries []*catalog.Entry
	if name, ok := filter["name"].(string); ok && name != "" {
		versions, err := s.catalog.Versions(name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		entries = versions
	} else {
		entries = s.catalog.List()
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"ref":       e.Ref(),
			"name":      e.Name,
			"version":   e.Version,
			"steps":     len(e.Workflow.Steps),
			"createdAt": e.CreatedAt,
		})
	}
	return marshalResult(map[string]any{"workflows": items})
}

// --- Internal helpers ---

// decodeDefinition round-trips the argument map through JSON and validates
// it. With a Validator configured the definition also passes the JSON
// Schema layer; without one only the semantic checks run.
func (s *WeftServer) decodeDefinition(raw map[string]any) (*schema.Workflow, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if s.validator != nil {
		return s.validator.ValidateDefinition(data)
	}

	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	if err := validation.CheckWorkflow(&wf).ToError(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// resolveWorkflow looks up a cataloged workflow by name or name@vN.
func (s *WeftServer) resolveWorkflow(ref string) (*schema.Workflow, error) {
	if s.catalog == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no catalog configured")
	}
	name, version, err := catalog.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	entry, err := s.catalog.Get(name, version)
	if err != nil {
		return nil, err
	}
	return entry.Workflow, nil
}

// captureSession maps the execution to the caller's MCP session so the
// notifier can push its events.
func (s *WeftServer) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

func signalResult(executionID, action string, status schema.ExecutionStatus) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{
		"ok":          true,
		"executionId": executionID,
		"action":      action,
		"status":      status,
	})
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
