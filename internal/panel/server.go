package panel

import (
	"log/slog"
	"net/http"

	"github.com/weft-run/weft/internal/catalog"
	"github.com/weft-run/weft/internal/checkpoint"
	"github.com/weft-run/weft/internal/engine"
	"github.com/weft-run/weft/internal/scheduler"
	"github.com/weft-run/weft/internal/store"
	"github.com/weft-run/weft/internal/streaming"
)

// Deps holds the collaborators the panel serves. Journal and Scheduler
// are optional; their endpoints answer 501 when absent.
type Deps struct {
	Engine    *engine.Engine
	Catalog   *catalog.Catalog
	Broker    *checkpoint.Broker
	Journal   *store.Journal
	Scheduler *scheduler.Scheduler
	Hub       streaming.Hub
	Logger    *slog.Logger
}

// Server is the operational HTTP surface: a JSON API over executions,
// checkpoints, the catalog, history, and jobs, plus live SSE event
// streams fed by the hub. It complements the MCP surface for humans and
// dashboards rather than agents.
type Server struct {
	deps Deps
}

// New creates a panel server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)
	mux.HandleFunc("GET /api/executions/{id}/diagram", s.handleExecutionDiagram)
	mux.HandleFunc("POST /api/executions/{id}/pause", s.handlePauseExecution)
	mux.HandleFunc("POST /api/executions/{id}/resume", s.handleResumeExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)
	mux.HandleFunc("DELETE /api/executions/{id}", s.handleClearExecution)
	mux.HandleFunc("POST /api/executions/sweep", s.handleSweepExecutions)

	mux.HandleFunc("GET /api/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("POST /api/checkpoints/{execution}/{step}/resolve", s.handleResolveCheckpoint)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{name}", s.handleWorkflowVersions)
	mux.HandleFunc("GET /api/workflows/{name}/diagram", s.handleWorkflowDiagram)
	mux.HandleFunc("DELETE /api/workflows/{name}", s.handleDeleteWorkflow)

	mux.HandleFunc("GET /api/history", s.handleHistory)

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs/{id}/enable", s.handleEnableJob)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)

	return mux
}
