package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weft-run/weft/internal/tools"
	"github.com/weft-run/weft/pkg/schema"
)

// ProviderConfig describes how to launch an external MCP tool server.
// Tools it exposes are registered under "<name>.<tool>".
type ProviderConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// Provider status values.
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusStopped   = "stopped"
)

const (
	listTimeout     = 10 * time.Second
	callTimeout     = 30 * time.Second
	pingTimeout     = 10 * time.Second
	healthInterval  = 30 * time.Second
	maxPingFailures = 3
)

// conn is the slice of the MCP client a connected provider uses after the
// handshake. *client.Client satisfies it.
type conn interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// stdioDial launches the provider subprocess and completes the MCP
// handshake, returning the live connection and the tools it advertises.
func stdioDial(ctx context.Context, cfg ProviderConfig) (conn, []mcp.Tool, error) {
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("launch %q: %w", cfg.Command, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = "2024-11-05"
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "weft", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	listed, err := c.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}
	return c, listed.Tools, nil
}

// Provider is a managed connection to one MCP tool server. Registered
// remote tools route through it, so a reconnect swaps the connection
// without re-registering anything.
type Provider struct {
	config ProviderConfig

	mu       sync.RWMutex
	conn     conn
	status   string
	errCount int
	lastErr  string
	stop     context.CancelFunc
}

func (p *Provider) state() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Provider) call(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	p.mu.RLock()
	c := p.conn
	p.mu.RUnlock()
	if c == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "provider %q is not connected", p.config.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
}

func (p *Provider) ping(ctx context.Context) error {
	p.mu.RLock()
	c := p.conn
	p.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("not connected")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.Ping(pingCtx)
}

func (p *Provider) close() error {
	p.mu.Lock()
	if p.stop != nil {
		p.stop()
	}
	c := p.conn
	p.conn = nil
	p.status = statusStopped
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// buildTools wraps the advertised MCP tools as registry tools namespaced
// by the provider name.
func (p *Provider) buildTools(listed []mcp.Tool) []tools.Tool {
	out := make([]tools.Tool, 0, len(listed))
	for _, t := range listed {
		if t.Name == "" {
			continue
		}
		input, err := json.Marshal(t.InputSchema)
		if err != nil {
			input = nil
		}
		out = append(out, &remoteTool{
			name:     p.config.Name + "." + t.Name,
			remote:   t.Name,
			desc:     t.Description,
			input:    input,
			provider: p,
		})
	}
	return out
}

// remoteTool adapts one MCP server tool to the tool registry contract.
type remoteTool struct {
	name     string // namespaced, e.g. "github.search_issues"
	remote   string // upstream tool name
	desc     string
	input    json.RawMessage
	provider *Provider
}

func (t *remoteTool) Name() string { return t.name }

func (t *remoteTool) Schema() tools.ToolSchema {
	return tools.ToolSchema{Description: t.desc, Input: t.input}
}

func (t *remoteTool) Execute(ctx context.Context, input any) (any, error) {
	args, err := callArguments(t.name, input)
	if err != nil {
		return nil, err
	}

	result, err := t.provider.call(ctx, t.remote, args)
	if err != nil {
		if _, ok := schema.AsError(err); ok {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: call failed: %v", t.name, err).WithCause(err)
	}
	return decodeResult(t.name, result)
}

// callArguments coerces a resolved step input into MCP call arguments.
// Nil becomes an empty map so tools with all-optional params accept a
// bare invocation.
func callArguments(name string, input any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}
	m, ok := input.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: input must be an object, got %T", name, input)
	}
	return m, nil
}

// decodeResult extracts the text content of a tool result. A single
// JSON-decodable text becomes structured output; anything else is
// returned as the joined text.
func decodeResult(name string, result *mcp.CallToolResult) (any, error) {
	var texts []string
	for _, content := range result.Content {
		if text := mcp.GetTextFromContent(content); text != "" {
			texts = append(texts, text)
		}
	}
	joined := strings.Join(texts, "\n")

	if result.IsError {
		if joined == "" {
			joined = "tool reported an error"
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: %s", name, joined)
	}

	if len(texts) == 1 {
		var decoded any
		if err := json.Unmarshal([]byte(texts[0]), &decoded); err == nil {
			return decoded, nil
		}
	}
	return joined, nil
}
