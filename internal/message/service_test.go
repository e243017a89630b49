package message

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/events/bus"
	"github.com/agentx/agentx/internal/persistence"
)

func newTestDeps(t *testing.T) (*Service, bus.EventBus, *persistence.Service) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	persist, err := persistence.NewService(t.TempDir(), log)
	require.NoError(t, err)

	manager := agent.NewManager(eventBus, log)
	svc := NewService(eventBus, manager, persist, log)
	return svc, eventBus, persist
}

func agentChunkUpdate(t *testing.T, text string) acp.SessionUpdate {
	t.Helper()
	var u acp.SessionUpdate
	raw := `{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"` + text + `"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestInitPersistenceJournalsUserMessages(t *testing.T) {
	svc, _, _ := newTestDeps(t)
	require.NoError(t, svc.InitPersistence())
	defer svc.Close()

	ctx := context.Background()
	svc.PublishUserMessage(ctx, "claude", "sess-1", []acp.ContentBlock{acp.TextBlock("hello")})

	require.Eventually(t, func() bool {
		return svc.HasHistory("sess-1")
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := svc.LoadHistory("sess-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Update.UserMessageChunk)
	require.Equal(t, "hello", messages[0].Update.UserMessageChunk.Content.Text.Text)
}

func TestStatusCompletedFlushesAccumulatedText(t *testing.T) {
	svc, eventBus, persist := newTestDeps(t)
	require.NoError(t, svc.InitPersistence())
	defer svc.Close()

	ctx := context.Background()
	const sessionID = "sess-2"

	event := events.NewSessionUpdateEvent("test", events.SessionUpdatePayload{
		SessionID: sessionID,
		AgentName: "claude",
		Update:    agentChunkUpdate(t, "streamed text"),
	})
	require.NoError(t, eventBus.Publish(ctx, events.SubjectSessionUpdate(sessionID), event))

	require.Eventually(t, func() bool {
		return persist.HasPending(sessionID)
	}, 2*time.Second, 10*time.Millisecond)

	status := events.NewSessionStatusEvent("test", events.SessionStatusPayload{
		SessionID: sessionID,
		AgentName: "claude",
		Status:    events.StatusCompleted,
	})
	require.NoError(t, eventBus.Publish(ctx, events.SubjectSessionStatus(sessionID), status))

	require.Eventually(t, func() bool {
		messages, err := svc.LoadHistory(sessionID)
		return err == nil && len(messages) == 1
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := svc.LoadHistory(sessionID)
	require.NoError(t, err)
	require.NotNil(t, messages[0].Update.AgentMessageChunk)
	require.Equal(t, "streamed text", messages[0].Update.AgentMessageChunk.Content.Text.Text)
}

func TestSessionUpdatesMergeInPublishOrder(t *testing.T) {
	svc, eventBus, _ := newTestDeps(t)
	require.NoError(t, svc.InitPersistence())
	defer svc.Close()

	ctx := context.Background()
	const sessionID = "sess-5"

	// All updates ride the same journal subscription, so the agent chunks
	// must merge in publish order and the trailing user chunk flushes them.
	for _, text := range []string{"Hello", ",", " world"} {
		event := events.NewSessionUpdateEvent("test", events.SessionUpdatePayload{
			SessionID: sessionID,
			AgentName: "claude",
			Update:    agentChunkUpdate(t, text),
		})
		require.NoError(t, eventBus.Publish(ctx, events.SubjectSessionUpdate(sessionID), event))
	}
	svc.PublishUserMessage(ctx, "claude", sessionID, []acp.ContentBlock{acp.TextBlock("go on")})

	require.Eventually(t, func() bool {
		messages, err := svc.LoadHistory(sessionID)
		return err == nil && len(messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := svc.LoadHistory(sessionID)
	require.NoError(t, err)
	require.NotNil(t, messages[0].Update.AgentMessageChunk)
	require.Equal(t, "Hello, world", messages[0].Update.AgentMessageChunk.Content.Text.Text)
	require.NotNil(t, messages[1].Update.UserMessageChunk)
	require.Equal(t, "go on", messages[1].Update.UserMessageChunk.Content.Text.Text)
}

func TestSendMessageUnknownAgent(t *testing.T) {
	svc, _, _ := newTestDeps(t)

	_, err := svc.SendText(context.Background(), "ghost", "sess-1", "hi")
	require.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestSendMessageEmptyPrompt(t *testing.T) {
	svc, _, _ := newTestDeps(t)

	_, err := svc.SendMessage(context.Background(), "claude", "sess-1", nil)
	require.Error(t, err)
}

func TestCancelUnknownAgent(t *testing.T) {
	svc, _, _ := newTestDeps(t)

	err := svc.Cancel(context.Background(), "ghost", "sess-1")
	require.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestPublishUserMessageFansOutPerBlock(t *testing.T) {
	svc, eventBus, _ := newTestDeps(t)

	var mu sync.Mutex
	var received []events.SessionUpdatePayload
	_, err := eventBus.Subscribe(events.SubjectSessionUpdate("sess-3"), func(ctx context.Context, e *bus.Event) error {
		payload, err := events.SessionUpdateFromEvent(e)
		if err != nil {
			return err
		}
		mu.Lock()
		received = append(received, *payload)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	svc.PublishUserMessage(context.Background(), "claude", "sess-3", []acp.ContentBlock{
		acp.TextBlock("first"),
		acp.TextBlock("second"),
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range received {
		require.Equal(t, "claude", p.AgentName)
		require.NotNil(t, p.Update.UserMessageChunk)
	}
}

func TestDeleteHistory(t *testing.T) {
	svc, _, _ := newTestDeps(t)
	require.NoError(t, svc.InitPersistence())
	defer svc.Close()

	svc.PublishUserMessage(context.Background(), "claude", "sess-4", []acp.ContentBlock{acp.TextBlock("bye")})
	require.Eventually(t, func() bool {
		return svc.HasHistory("sess-4")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.DeleteHistory("sess-4"))
	require.False(t, svc.HasHistory("sess-4"))

	sessions, err := svc.ListSessions()
	require.NoError(t, err)
	require.NotContains(t, sessions, "sess-4")
}
