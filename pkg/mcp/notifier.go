package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/weft-run/weft/pkg/schema"
)

// Notifier forwards execution events to the MCP session watching the run.
// It implements streaming.Sink; the binary feeds it from a hub
// subscription so background runs report back without polling.
type Notifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewNotifier creates a notifier that pushes events as MCP notifications.
func NewNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *Notifier {
	return &Notifier{mcpServer: mcpServer, sessions: sessions}
}

// Publish sends the event to the watching session. Best-effort: events for
// executions nobody watches are dropped, and a session that disconnected
// between lookup and send is pruned.
func (n *Notifier) Publish(_ context.Context, event schema.Event) error {
	sessionID, ok := n.sessions.SessionFor(event.ExecutionID)
	if !ok {
		return nil // nobody watching, best-effort
	}

	payload := map[string]any{
		"type":        event.Type,
		"executionId": event.ExecutionID,
	}
	if event.WorkflowID != "" {
		payload["workflowId"] = event.WorkflowID
	}
	if event.StepID != "" {
		payload["stepId"] = event.StepID
	}
	if event.Type == schema.EventCheckpointRequested {
		if prompt, ok := event.Payload["prompt"]; ok {
			payload["prompt"] = prompt
		}
		if opts, ok := event.Payload["options"]; ok {
			payload["options"] = opts
		}
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	if terminalEvent(event.Type) {
		n.sessions.Forget(event.ExecutionID)
	}
	return err
}

// terminalEvent reports whether the event closes its execution's stream.
func terminalEvent(eventType string) bool {
	switch eventType {
	case schema.EventExecutionCompleted, schema.EventExecutionFailed, schema.EventExecutionCancelled:
		return true
	}
	return false
}
