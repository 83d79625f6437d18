package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/weft-run/weft/internal/catalog"
	"github.com/weft-run/weft/internal/checkpoint"
	"github.com/weft-run/weft/internal/engine"
	"github.com/weft-run/weft/internal/store"
	"github.com/weft-run/weft/internal/validation"
)

// ServerDeps holds the collaborators for creating a WeftServer.
type ServerDeps struct {
	Engine    *engine.Engine
	Catalog   *catalog.Catalog
	Validator *validation.Validator
	Broker    *checkpoint.Broker
	Journal   *store.Journal // optional; enables the events query
	Logger    *slog.Logger
}

// WeftServer wraps an MCP server with the workflow tool handlers.
type WeftServer struct {
	engine    *engine.Engine
	catalog   *catalog.Catalog
	validator *validation.Validator
	broker    *checkpoint.Broker
	journal   *store.Journal
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeftServer creates a WeftServer with all 5 tools registered.
func NewWeftServer(deps ServerDeps) *WeftServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WeftServer{
		engine:    deps.Engine,
		catalog:   deps.Catalog,
		validator: deps.Validator,
		broker:    deps.Broker,
		journal:   deps.Journal,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"weft",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Weft runs declarative multi-step workflows. Use workflow.define to validate and catalog a definition, workflow.run to start a run, workflow.status to inspect an execution, workflow.signal to pause/resume/cancel a run or answer a human checkpoint, and workflow.query to list executions, checkpoints, events, and cataloged workflows."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *WeftServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WeftServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns a sink that pushes execution events to the session that
// started (or last signalled) the run. The binary wires it into the event
// fanout alongside the hub and journal.
func (s *WeftServer) Notifier() *Notifier {
	return NewNotifier(s.mcpServer, s.sessions)
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *WeftServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: signalTool(), Handler: s.handleSignal},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("workflow.define",
		mcp.WithDescription("Validate a workflow definition and store it in the catalog"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("workflow.run",
		mcp.WithDescription("Start a workflow run and return its execution id"),
		mcp.WithString("workflow", mcp.Description("Cataloged workflow reference, name or name@vN (default: latest version)")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition (alternative to workflow)")),
		mcp.WithObject("input", mcp.Description("Initial variables for the run")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("workflow.status",
		mcp.WithDescription("Get the current snapshot of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
	)
}

func signalTool() mcp.Tool {
	return mcp.NewTool("workflow.signal",
		mcp.WithDescription("Control a run: pause, resume, cancel, or answer a pending checkpoint"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the target execution")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("pause", "resume", "cancel", "respond"),
			mcp.Description("Control action to apply"),
		),
		mcp.WithObject("input", mcp.Description("Variables merged into the execution on resume")),
		mcp.WithString("checkpoint_id", mcp.Description("Checkpoint to answer (default: the execution's pending checkpoint)")),
		mcp.WithString("answer", mcp.Description("Answer for the respond action")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("workflow.query",
		mcp.WithDescription("Query executions, checkpoints, events, or cataloged workflows"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("executions", "active", "checkpoints", "events", "workflows"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, execution_id, status, name, since_seq, limit)")),
	)
}
