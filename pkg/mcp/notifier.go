package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// DiagramNotifier pushes lineage updates to connected clients.
type DiagramNotifier interface {
	Notify(ctx context.Context, rootID string, payload map[string]any) error
}

// MCPNotifier implements DiagramNotifier using MCP notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to every session watching the lineage.
// Best-effort: sessions that went away are dropped silently.
func (n *MCPNotifier) Notify(_ context.Context, rootID string, payload map[string]any) error {
	var errs []error
	for _, sessionID := range n.sessions.SessionsFor(rootID) {
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sessionID)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
