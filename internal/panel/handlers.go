package panel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/weft-run/weft/internal/checkpoint"
	"github.com/weft-run/weft/internal/diagram"
	"github.com/weft-run/weft/internal/store"
	"github.com/weft-run/weft/pkg/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"journal":  s.deps.Journal != nil,
		"schedule": s.deps.Scheduler != nil,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var execs []*schema.Execution
	var err error
	if q.Get("active") == "true" {
		execs, err = s.deps.Engine.ListActive(ctx)
	} else {
		execs, err = s.deps.Engine.List(ctx, q.Get("workflow_id"))
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if status := q.Get("status"); status != "" {
		filtered := execs[:0]
		for _, e := range execs {
			if string(e.Status) == status {
				filtered = append(filtered, e)
			}
		}
		execs = filtered
	}
	if limit := queryInt(r, "limit", 50); limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	if execs == nil {
		execs = []*schema.Execution{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotImplemented, "no journal configured")
		return
	}
	events, err := s.deps.Journal.Events(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []*schema.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleExecutionDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exec, err := s.deps.Engine.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	entry, err := s.deps.Catalog.Get(exec.WorkflowID, 0)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow definition is not cataloged")
		return
	}
	writeMermaid(w, diagram.Mermaid(entry.Workflow, exec))
}

func (s *Server) handlePauseExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.Pause(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "executionId": id, "status": schema.StatusPaused})
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Input map[string]any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exec, err := s.deps.Engine.Resume(r.Context(), id, body.Input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "executionId": id, "status": exec.Status})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "executionId": id, "status": schema.StatusCancelled})
}

func (s *Server) handleClearExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.Clear(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "executionId": id})
}

func (s *Server) handleSweepExecutions(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.deps.Engine.ClearFinished(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cleared": cleared})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	pending := []checkpoint.Pending{}
	if s.deps.Broker != nil {
		pending = s.deps.Broker.Pending()
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": pending, "count": len(pending)})
}

func (s *Server) handleResolveCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeError(w, http.StatusNotImplemented, "no checkpoint broker configured")
		return
	}

	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Answer == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}

	execution, step := r.PathValue("execution"), r.PathValue("step")
	if err := s.deps.Broker.Resolve(checkpoint.Key(execution, step), body.Answer); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "executionId": execution, "stepId": step})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Catalog.List()
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
	writeJSON(w, http.StatusOK, map[string]any{"workflows": items, "count": len(items)})
}

func (s *Server) handleWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Catalog.Versions(r.PathValue("name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": entries, "count": len(entries)})
}

func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.Catalog.Get(r.PathValue("name"), queryInt(r, "version", 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeMermaid(w, diagram.Mermaid(entry.Workflow, nil))
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Catalog.Delete(name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": name})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotImplemented, "no journal configured")
		return
	}
	q := r.URL.Query()
	execs, err := s.deps.Journal.ListExecutions(r.Context(), store.HistoryFilter{
		WorkflowID: q.Get("workflow_id"),
		Status:     schema.ExecutionStatus(q.Get("status")),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if execs == nil {
		execs = []*schema.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotImplemented, "no scheduler configured")
		return
	}
	jobs := s.deps.Scheduler.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleEnableJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotImplemented, "no scheduler configured")
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must carry an 'enabled' boolean")
		return
	}

	id := r.PathValue("id")
	if err := s.deps.Scheduler.Enable(id, *body.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobId": id, "enabled": *body.Enabled})
}
