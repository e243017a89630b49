package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/events/bus"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

// sessionUpdateNotification builds a raw session/update JSON-RPC notification
// the way an agent would write it to stdout.
func sessionUpdateNotification(sessionID, text string) []byte {
	notification := map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params": map[string]any{
			"sessionId": sessionID,
			"update": map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content": map[string]any{
					"type": "text",
					"text": text,
				},
			},
		},
	}
	data, _ := json.Marshal(notification)
	return append(data, '\n')
}

func TestClientPublishesSessionUpdatesFromWire(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	var mu sync.Mutex
	var received []string
	_, err := eventBus.Subscribe(events.SubjectSessionUpdateAll, func(ctx context.Context, e *bus.Event) error {
		payload, err := events.SessionUpdateFromEvent(e)
		if err != nil {
			return err
		}
		if payload.Update.AgentMessageChunk != nil && payload.Update.AgentMessageChunk.Content.Text != nil {
			mu.Lock()
			received = append(received, payload.Update.AgentMessageChunk.Content.Text.Text)
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	client := NewClient("claude", eventBus, NewPermissionStore(), log)

	_, agentStdinWriter := io.Pipe()
	agentStdoutReader, agentStdoutWriter := io.Pipe()
	conn := acp.NewClientSideConnection(client, agentStdinWriter, agentStdoutReader)

	const numChunks = 5
	go func() {
		for i := 0; i < numChunks; i++ {
			_, _ = agentStdoutWriter.Write(sessionUpdateNotification("sess-1", fmt.Sprintf("chunk_%d", i)))
		}
		time.Sleep(100 * time.Millisecond)
		_ = agentStdoutWriter.Close()
	}()

	<-conn.Done()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == numChunks
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestPermissionResolvedViaStore(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	store := NewPermissionStore()
	client := NewClient("claude", eventBus, store, log)

	// A subscriber plays the role of the UI: it sees the request on the bus
	// and responds through the store.
	_, err := eventBus.Subscribe(events.SubjectPermissionReq, func(ctx context.Context, e *bus.Event) error {
		payload, err := events.PermissionRequestFromEvent(e)
		if err != nil {
			return err
		}
		return store.Respond(payload.PermissionID, acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: "allow-once"},
		})
	})
	require.NoError(t, err)

	resp, err := client.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: acp.SessionId("sess-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	require.Equal(t, acp.PermissionOptionId("allow-once"), resp.Outcome.Selected.OptionId)
	require.Equal(t, 0, store.Pending())
}

func TestRequestPermissionCancelledByContext(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	store := NewPermissionStore()
	client := NewClient("claude", eventBus, store, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	resp, err := client.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: acp.SessionId("sess-1"),
	})
	require.NoError(t, err, "cancellation resolves as an outcome, not an error")
	require.NotNil(t, resp.Outcome.Cancelled)
	require.Equal(t, 0, store.Pending())
}

func TestFileSystemAndTerminalRefused(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	client := NewClient("claude", eventBus, NewPermissionStore(), log)
	ctx := context.Background()

	_, err := client.ReadTextFile(ctx, acp.ReadTextFileRequest{})
	require.Error(t, err)
	_, err = client.WriteTextFile(ctx, acp.WriteTextFileRequest{})
	require.Error(t, err)
	_, err = client.CreateTerminal(ctx, acp.CreateTerminalRequest{})
	require.Error(t, err)
}
