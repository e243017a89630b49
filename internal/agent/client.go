package agent

import (
	"context"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/events/bus"
)

// Client implements the host side of the ACP connection for one agent.
// Session updates and permission requests are fanned out over the event bus;
// file-system and terminal methods are refused because the host advertises
// neither capability.
type Client struct {
	agentName   string
	bus         bus.EventBus
	permissions *PermissionStore
	logger      *logger.Logger
}

// NewClient creates the ACP client callbacks for the named agent.
func NewClient(agentName string, eventBus bus.EventBus, permissions *PermissionStore, log *logger.Logger) *Client {
	return &Client{
		agentName:   agentName,
		bus:         eventBus,
		permissions: permissions,
		logger:      log.WithAgent(agentName),
	}
}

// RequestPermission registers the request in the permission store, announces
// it on the bus, and blocks until a client responds or the request context
// ends. Cancellation resolves the RPC as a cancelled outcome rather than an
// error so the agent can unwind its tool call cleanly.
func (c *Client) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	title := ""
	if p.ToolCall.Title != nil {
		title = *p.ToolCall.Title
	}

	responder := make(chan acp.RequestPermissionOutcome, 1)
	id := c.permissions.Add(c.agentName, p.SessionId, responder, ctx.Done())

	c.logger.Info("permission requested",
		zap.String("permission_id", id),
		zap.String("session_id", string(p.SessionId)),
		zap.String("tool_call_id", string(p.ToolCall.ToolCallId)),
		zap.String("title", title),
		zap.Int("num_options", len(p.Options)))

	event := events.NewPermissionRequestEvent("agent-client", events.PermissionRequestPayload{
		PermissionID: id,
		SessionID:    string(p.SessionId),
		AgentName:    c.agentName,
		Request:      p,
	})
	if err := c.bus.Publish(ctx, events.SubjectPermissionReq, event); err != nil {
		c.permissions.Remove(id)
		c.logger.Error("failed to publish permission request, cancelling",
			zap.String("permission_id", id), zap.Error(err))
		return cancelledPermission(), nil
	}

	select {
	case outcome := <-responder:
		return acp.RequestPermissionResponse{Outcome: outcome}, nil
	case <-ctx.Done():
		c.permissions.Remove(id)
		c.logger.Info("permission request cancelled",
			zap.String("permission_id", id),
			zap.String("session_id", string(p.SessionId)))
		return cancelledPermission(), nil
	}
}

func cancelledPermission() acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Cancelled: &acp.RequestPermissionOutcomeCancelled{},
		},
	}
}

// SessionUpdate publishes the notification on the session's update subject.
func (c *Client) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	u := n.Update
	switch {
	case u.AgentMessageChunk != nil:
		if u.AgentMessageChunk.Content.Text != nil {
			text := u.AgentMessageChunk.Content.Text.Text
			c.logger.Debug("agent message chunk",
				zap.String("session_id", string(n.SessionId)),
				zap.Int("len", len(text)))
		}
	case u.ToolCall != nil:
		c.logger.Debug("tool call",
			zap.String("session_id", string(n.SessionId)),
			zap.String("tool_call_id", string(u.ToolCall.ToolCallId)),
			zap.String("title", u.ToolCall.Title))
	case u.ToolCallUpdate != nil:
		c.logger.Debug("tool call update",
			zap.String("session_id", string(n.SessionId)),
			zap.String("tool_call_id", string(u.ToolCallUpdate.ToolCallId)))
	case u.Plan != nil:
		c.logger.Debug("plan update",
			zap.String("session_id", string(n.SessionId)),
			zap.Int("entries", len(u.Plan.Entries)))
	}

	event := events.NewSessionUpdateEvent("agent-client", events.SessionUpdatePayload{
		SessionID: string(n.SessionId),
		AgentName: c.agentName,
		Update:    n.Update,
	})
	if err := c.bus.Publish(ctx, events.SubjectSessionUpdate(string(n.SessionId)), event); err != nil {
		c.logger.Error("failed to publish session update",
			zap.String("session_id", string(n.SessionId)), zap.Error(err))
	}

	return nil
}

// ReadTextFile is refused: the host declares no file-system capability.
func (c *Client) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, fmt.Errorf("fs/read_text_file is not supported by this client")
}

// WriteTextFile is refused: the host declares no file-system capability.
func (c *Client) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, fmt.Errorf("fs/write_text_file is not supported by this client")
}

// CreateTerminal is refused: the host declares no terminal capability.
func (c *Client) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, fmt.Errorf("terminal/create is not supported by this client")
}

// KillTerminalCommand is refused: the host declares no terminal capability.
func (c *Client) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, fmt.Errorf("terminal/kill is not supported by this client")
}

// TerminalOutput is refused: the host declares no terminal capability.
func (c *Client) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, fmt.Errorf("terminal/output is not supported by this client")
}

// ReleaseTerminal is refused: the host declares no terminal capability.
func (c *Client) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, fmt.Errorf("terminal/release is not supported by this client")
}

// WaitForTerminalExit is refused: the host declares no terminal capability.
func (c *Client) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, fmt.Errorf("terminal/wait_for_exit is not supported by this client")
}

// Verify interface implementation
var _ acp.Client = (*Client)(nil)
