package agent

import (
	"context"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"
)

// fakeWorker drains a handle's mailbox with a scripted reply function,
// standing in for the real subprocess-owning goroutine.
func fakeWorker(h *AgentHandle, serve func(cmd agentCommand) bool) {
	go func() {
		defer close(h.done)
		for cmd := range h.commands {
			if stop := serve(cmd); stop {
				return
			}
		}
	}()
}

func TestHandlePromptRoundTrip(t *testing.T) {
	h := newAgentHandle("claude")
	fakeWorker(h, func(cmd agentCommand) bool {
		c, ok := cmd.(promptCmd)
		require.True(t, ok)
		c.reply <- result[acp.PromptResponse]{value: acp.PromptResponse{StopReason: "end_turn"}}
		return true
	})

	resp, err := h.Prompt(context.Background(), acp.PromptRequest{SessionId: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, "end_turn", string(resp.StopReason))
}

func TestHandleRefusedAfterWorkerExit(t *testing.T) {
	h := newAgentHandle("claude")
	fakeWorker(h, func(cmd agentCommand) bool { return true })

	// Drive the worker to exit, then verify the handle refuses new work.
	_ = h.Cancel(context.Background(), "sess-1")
	require.Eventually(t, func() bool { return !h.Running() }, time.Second, 5*time.Millisecond)

	_, err := h.Prompt(context.Background(), acp.PromptRequest{SessionId: "sess-1"})
	require.ErrorIs(t, err, ErrAgentNotRunning)
}

func TestHandleStoppedBeforeReply(t *testing.T) {
	h := newAgentHandle("claude")
	fakeWorker(h, func(cmd agentCommand) bool {
		// Accept the command but exit without replying
		return true
	})

	_, err := h.NewSession(context.Background(), acp.NewSessionRequest{})
	require.ErrorIs(t, err, ErrAgentStopped)
}

func TestHandleFullMailboxBlocksSender(t *testing.T) {
	h := newAgentHandle("claude")
	// No worker yet: fill the mailbox so the next send has to wait.
	for i := 0; i < mailboxSize; i++ {
		h.commands <- cancelCmd{ctx: context.Background(), sessionID: "s", reply: make(chan result[struct{}], 1)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.Cancel(ctx, "sess-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Once a worker drains the backlog, blocked senders get through.
	fakeWorker(h, func(cmd agentCommand) bool {
		switch c := cmd.(type) {
		case cancelCmd:
			c.reply <- result[struct{}]{}
		case shutdownCmd:
			c.reply <- result[struct{}]{}
			return true
		}
		return false
	})

	require.NoError(t, h.Cancel(context.Background(), "sess-1"))
	require.NoError(t, h.Shutdown(context.Background()))
}

func TestHandleSetSessionModel(t *testing.T) {
	h := newAgentHandle("claude")
	fakeWorker(h, func(cmd agentCommand) bool {
		c, ok := cmd.(setModelCmd)
		require.True(t, ok)
		require.Equal(t, acp.SessionId("sess-1"), c.req.SessionId)
		require.Equal(t, acp.UnstableModelId("claude-sonnet"), c.req.ModelId)
		c.reply <- result[struct{}]{}
		return true
	})

	require.NoError(t, h.SetSessionModel(context.Background(), "sess-1", "claude-sonnet"))
}

func TestHandleLoadSessionGate(t *testing.T) {
	h := newAgentHandle("claude")

	_, err := h.LoadSession(context.Background(), acp.LoadSessionRequest{SessionId: "sess-1"})
	require.ErrorIs(t, err, ErrLoadSessionUnsupported, "no handshake cached yet")

	resp := acp.InitializeResponse{}
	h.initResp.Store(&resp)
	require.False(t, h.SupportsLoadSession())

	withLoad := acp.InitializeResponse{
		AgentCapabilities: acp.AgentCapabilities{LoadSession: true},
	}
	h.initResp.Store(&withLoad)
	require.True(t, h.SupportsLoadSession())
}
