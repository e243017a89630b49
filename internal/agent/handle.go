package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
)

// mailboxSize bounds the number of queued commands per agent worker.
const mailboxSize = 32

// AgentHandle is the host-side handle to one running agent worker. All
// operations are routed through the worker's mailbox so the subprocess and
// its connection are owned by a single goroutine.
type AgentHandle struct {
	name     string
	commands chan agentCommand

	// done is closed by the worker when it exits, for any reason.
	done chan struct{}

	initResp atomic.Pointer[acp.InitializeResponse]
}

func newAgentHandle(name string) *AgentHandle {
	return &AgentHandle{
		name:     name,
		commands: make(chan agentCommand, mailboxSize),
		done:     make(chan struct{}),
	}
}

// Name returns the agent's configured name.
func (h *AgentHandle) Name() string {
	return h.name
}

// Running reports whether the worker is still serving commands.
func (h *AgentHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// InitResponse returns the initialize handshake response cached at startup,
// or nil if the handshake has not completed.
func (h *AgentHandle) InitResponse() *acp.InitializeResponse {
	return h.initResp.Load()
}

// AgentInfo returns the agent's self-reported implementation info, if any.
func (h *AgentHandle) AgentInfo() *acp.Implementation {
	resp := h.initResp.Load()
	if resp == nil {
		return nil
	}
	return resp.AgentInfo
}

// SupportsLoadSession reports whether the agent advertises session/load.
func (h *AgentHandle) SupportsLoadSession() bool {
	resp := h.initResp.Load()
	return resp != nil && resp.AgentCapabilities.LoadSession
}

// NewSession creates a new session on the agent.
func (h *AgentHandle) NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	cmd := newSessionCmd{ctx: ctx, req: req, reply: make(chan result[acp.NewSessionResponse], 1)}
	return dispatch(ctx, h, cmd, cmd.reply)
}

// LoadSession resumes a previously created session. Fails with
// ErrLoadSessionUnsupported when the agent lacks the capability.
func (h *AgentHandle) LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acp.LoadSessionResponse, error) {
	if !h.SupportsLoadSession() {
		return acp.LoadSessionResponse{}, fmt.Errorf("agent %q: %w", h.name, ErrLoadSessionUnsupported)
	}
	cmd := loadSessionCmd{ctx: ctx, req: req, reply: make(chan result[acp.LoadSessionResponse], 1)}
	return dispatch(ctx, h, cmd, cmd.reply)
}

// Prompt sends a user turn to the agent and blocks until the turn completes.
// The worker serves the prompt concurrently, so Cancel can still get through
// while a prompt is in flight.
func (h *AgentHandle) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	cmd := promptCmd{ctx: ctx, req: req, reply: make(chan result[acp.PromptResponse], 1)}
	return dispatch(ctx, h, cmd, cmd.reply)
}

// Cancel asks the agent to abort the current turn of the given session.
func (h *AgentHandle) Cancel(ctx context.Context, sessionID acp.SessionId) error {
	cmd := cancelCmd{ctx: ctx, sessionID: sessionID, reply: make(chan result[struct{}], 1)}
	_, err := dispatch(ctx, h, cmd, cmd.reply)
	return err
}

// SetSessionMode switches the session's mode.
func (h *AgentHandle) SetSessionMode(ctx context.Context, sessionID acp.SessionId, modeID acp.SessionModeId) error {
	cmd := setModeCmd{
		ctx:   ctx,
		req:   acp.SetSessionModeRequest{SessionId: sessionID, ModeId: modeID},
		reply: make(chan result[struct{}], 1),
	}
	_, err := dispatch(ctx, h, cmd, cmd.reply)
	return err
}

// SetSessionModel switches the session's model. Model selection is an
// unstable protocol extension, so the request rides the Unstable call family.
func (h *AgentHandle) SetSessionModel(ctx context.Context, sessionID acp.SessionId, modelID string) error {
	cmd := setModelCmd{
		ctx:   ctx,
		req:   acp.UnstableSetSessionModelRequest{SessionId: sessionID, ModelId: acp.UnstableModelId(modelID)},
		reply: make(chan result[struct{}], 1),
	}
	_, err := dispatch(ctx, h, cmd, cmd.reply)
	return err
}

// Shutdown stops the worker and its subprocess. The worker acknowledges
// before tearing down, so a nil error means the shutdown was accepted.
func (h *AgentHandle) Shutdown(ctx context.Context) error {
	cmd := shutdownCmd{reply: make(chan result[struct{}], 1)}
	_, err := dispatch(ctx, h, cmd, cmd.reply)
	return err
}

// dispatch queues a command on the mailbox and awaits its reply. A full
// mailbox blocks the sender until the worker drains it; an exited worker
// yields ErrAgentNotRunning; a worker that exits after accepting the command
// without replying yields ErrAgentStopped.
func dispatch[T any](ctx context.Context, h *AgentHandle, cmd agentCommand, reply chan result[T]) (T, error) {
	var zero T

	select {
	case <-h.done:
		return zero, fmt.Errorf("agent %q %s: %w", h.name, cmd.commandName(), ErrAgentNotRunning)
	default:
	}

	select {
	case h.commands <- cmd:
	case <-h.done:
		return zero, fmt.Errorf("agent %q %s: %w", h.name, cmd.commandName(), ErrAgentNotRunning)
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-h.done:
		// The worker may have replied just before exiting
		select {
		case r := <-reply:
			return r.value, r.err
		default:
			return zero, fmt.Errorf("agent %q %s: %w", h.name, cmd.commandName(), ErrAgentStopped)
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
