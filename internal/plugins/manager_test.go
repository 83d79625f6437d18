package plugins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/tools"
	"github.com/weft-run/weft/pkg/schema"
)

// fakeConn satisfies conn for manager tests; no subprocess is launched.
type fakeConn struct {
	mu      sync.Mutex
	calls   []mcp.CallToolRequest
	result  *mcp.CallToolResult
	callErr error
	pingErr error
	closed  bool
}

func (f *fakeConn) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return mcp.NewToolResultText("{}"), nil
}

func (f *fakeConn) Ping(context.Context) error { return f.pingErr }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestManager(c conn, listed []mcp.Tool, dialErr error) *Manager {
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.dial = func(context.Context, ProviderConfig) (conn, []mcp.Tool, error) {
		if dialErr != nil {
			return nil, nil, dialErr
		}
		return c, listed, nil
	}
	return m
}

func searchTool() mcp.Tool {
	return mcp.NewTool("search_issues",
		mcp.WithDescription("Search issues in a tracker"),
		mcp.WithString("query", mcp.Required()),
	)
}

func TestConnect_RegistersNamespacedTools(t *testing.T) {
	fc := &fakeConn{}
	m := newTestManager(fc, []mcp.Tool{searchTool()}, nil)
	reg := tools.NewRegistry()

	err := m.Connect(context.Background(), ProviderConfig{Name: "github", Command: "github-mcp"}, reg)
	require.NoError(t, err)

	require.True(t, reg.Has("github.search_issues"))
	assert.Equal(t, map[string]string{"github": "healthy"}, m.Status())

	infos := reg.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "Search issues in a tracker", infos[0].Description)
}

func TestConnect_ConfigErrors(t *testing.T) {
	m := newTestManager(&fakeConn{}, nil, nil)
	reg := tools.NewRegistry()

	err := m.Connect(context.Background(), ProviderConfig{Command: "github-mcp"}, reg)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = m.Connect(context.Background(), ProviderConfig{Name: "github"}, reg)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestConnect_DuplicateName(t *testing.T) {
	m := newTestManager(&fakeConn{}, []mcp.Tool{searchTool()}, nil)
	reg := tools.NewRegistry()

	cfg := ProviderConfig{Name: "github", Command: "github-mcp"}
	require.NoError(t, m.Connect(context.Background(), cfg, reg))

	err := m.Connect(context.Background(), cfg, reg)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.Contains(t, err.Error(), "already connected")
}

func TestConnect_DialError(t *testing.T) {
	m := newTestManager(nil, nil, errors.New("exec: not found"))
	reg := tools.NewRegistry()

	err := m.Connect(context.Background(), ProviderConfig{Name: "github", Command: "/nope"}, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `connect provider "github"`)
	assert.Empty(t, m.Status())
}

func TestConnect_ToolNameCollision(t *testing.T) {
	fc := &fakeConn{}
	m := newTestManager(fc, []mcp.Tool{searchTool()}, nil)
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&remoteTool{name: "github.search_issues"}))

	err := m.Connect(context.Background(), ProviderConfig{Name: "github", Command: "github-mcp"}, reg)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.True(t, fc.isClosed())
	assert.Equal(t, 1, reg.Count())
	assert.Empty(t, m.Status())
}

func TestInvokeThroughRegistry(t *testing.T) {
	fc := &fakeConn{result: mcp.NewToolResultText(`{"total": 2, "titles": ["a", "b"]}`)}
	m := newTestManager(fc, []mcp.Tool{searchTool()}, nil)
	reg := tools.NewRegistry()
	require.NoError(t, m.Connect(context.Background(), ProviderConfig{Name: "github", Command: "github-mcp"}, reg))

	out, err := reg.Invoke(context.Background(), "github.search_issues", map[string]any{"query": "bug"})
	require.NoError(t, err)

	result, ok := out.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, result["total"])

	require.Len(t, fc.calls, 1)
	assert.Equal(t, "search_issues", fc.calls[0].Params.Name)

	// The advertised input schema travels with the tool, so the registry
	// rejects calls that violate it before the provider sees them.
	_, err = reg.Invoke(context.Background(), "github.search_issues", map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Len(t, fc.calls, 1)
}

func TestRemoteTool_ErrorResult(t *testing.T) {
	fc := &fakeConn{result: mcp.NewToolResultError("rate limited")}
	rt := &remoteTool{name: "github.search_issues", remote: "search_issues", provider: &Provider{conn: fc}}

	_, err := rt.Execute(context.Background(), map[string]any{"query": "bug"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRemoteTool_PlainTextResult(t *testing.T) {
	fc := &fakeConn{result: mcp.NewToolResultText("not json at all")}
	rt := &remoteTool{name: "notes.read", remote: "read", provider: &Provider{conn: fc}}

	out, err := rt.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "not json at all", out)
}

func TestRemoteTool_RejectsNonObjectInput(t *testing.T) {
	rt := &remoteTool{name: "notes.read", remote: "read", provider: &Provider{conn: &fakeConn{}}}

	_, err := rt.Execute(context.Background(), "just a string")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRemoteTool_NotConnected(t *testing.T) {
	rt := &remoteTool{name: "notes.read", remote: "read", provider: &Provider{config: ProviderConfig{Name: "notes"}}}

	_, err := rt.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
	assert.Contains(t, err.Error(), "not connected")
}

func TestDecodeResult_MultipleTexts(t *testing.T) {
	result := &mcp.CallToolResult{Content: []mcp.Content{
		mcp.TextContent{Type: "text", Text: "first"},
		mcp.TextContent{Type: "text", Text: "second"},
	}}

	out, err := decodeResult("notes.read", result)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", out)
}

func TestDisconnect(t *testing.T) {
	fc := &fakeConn{}
	m := newTestManager(fc, []mcp.Tool{searchTool()}, nil)
	reg := tools.NewRegistry()
	require.NoError(t, m.Connect(context.Background(), ProviderConfig{Name: "github", Command: "github-mcp"}, reg))

	require.NoError(t, m.Disconnect("github"))
	assert.True(t, fc.isClosed())
	assert.Empty(t, m.Status())

	err := m.Disconnect("github")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	// The tool stays listed but fails until the provider is back.
	_, err = reg.Invoke(context.Background(), "github.search_issues", map[string]any{"query": "bug"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestClose_StopsAll(t *testing.T) {
	first := &fakeConn{}
	second := &fakeConn{}
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg := tools.NewRegistry()

	conns := []conn{first, second}
	m.dial = func(context.Context, ProviderConfig) (conn, []mcp.Tool, error) {
		c := conns[0]
		conns = conns[1:]
		return c, []mcp.Tool{searchTool()}, nil
	}

	require.NoError(t, m.Connect(context.Background(), ProviderConfig{Name: "github", Command: "github-mcp"}, reg))
	require.NoError(t, m.Connect(context.Background(), ProviderConfig{Name: "jira", Command: "jira-mcp"}, reg))

	require.NoError(t, m.Close())
	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Empty(t, m.Status())
}
