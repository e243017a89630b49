package persistence

import (
	"os"
	"path/filepath"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	svc, err := NewService(t.TempDir(), log)
	require.NoError(t, err)
	return svc
}

func userTextChunk(t *testing.T, text string) acp.SessionUpdate {
	t.Helper()
	return mustUpdate(t, `{"sessionUpdate":"user_message_chunk","content":{"type":"text","text":"`+text+`"}}`)
}

func TestServiceSaveAndLoadRoundTrip(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-1"

	require.NoError(t, svc.SaveUpdate(sessionID, userTextChunk(t, "do the thing")))
	require.NoError(t, svc.SaveUpdate(sessionID, agentTextChunk(t, "on ")))
	require.NoError(t, svc.SaveUpdate(sessionID, agentTextChunk(t, "it")))
	require.True(t, svc.HasPending(sessionID))
	require.NoError(t, svc.FlushSession(sessionID))
	require.False(t, svc.HasPending(sessionID))

	messages, err := svc.LoadMessages(sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	require.NotNil(t, messages[0].Update.UserMessageChunk)
	require.Equal(t, "do the thing", messages[0].Update.UserMessageChunk.Content.Text.Text)

	require.NotNil(t, messages[1].Update.AgentMessageChunk)
	require.Equal(t, "on it", messages[1].Update.AgentMessageChunk.Content.Text.Text)
}

func TestServiceUserChunkFlushesPendingAgentText(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-2"

	require.NoError(t, svc.SaveUpdate(sessionID, agentTextChunk(t, "partial answer")))
	require.NoError(t, svc.SaveUpdate(sessionID, userTextChunk(t, "follow-up")))

	messages, err := svc.LoadMessages(sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.NotNil(t, messages[0].Update.AgentMessageChunk, "buffered agent text lands before the user message")
	require.NotNil(t, messages[1].Update.UserMessageChunk)
}

func TestServiceToolCallLifecycle(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-3"

	require.NoError(t, svc.SaveUpdate(sessionID, toolCallUpdate(t, "call-1", "in_progress")))
	require.False(t, svc.SessionFileExists(sessionID), "non-terminal updates stay in memory")

	require.NoError(t, svc.SaveUpdate(sessionID, toolCallUpdate(t, "call-1", "completed")))

	messages, err := svc.LoadMessages(sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Update.ToolCallUpdate)
	require.Equal(t, "completed", string(*messages[0].Update.ToolCallUpdate.Status))
}

func TestServiceLoadMissingSession(t *testing.T) {
	svc := newTestService(t)

	messages, err := svc.LoadMessages("never-seen")
	require.NoError(t, err)
	require.NotNil(t, messages)
	require.Empty(t, messages)
}

func TestServiceLoadSkipsCorruptLines(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-4"

	require.NoError(t, svc.SaveUpdate(sessionID, userTextChunk(t, "first")))

	path := filepath.Join(svc.Dir(), sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, svc.SaveUpdate(sessionID, userTextChunk(t, "second")))

	messages, err := svc.LoadMessages(sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

func TestServiceDeleteSession(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-5"

	require.NoError(t, svc.SaveUpdate(sessionID, userTextChunk(t, "hello")))
	require.True(t, svc.SessionFileExists(sessionID))

	require.NoError(t, svc.DeleteSession(sessionID))
	require.False(t, svc.SessionFileExists(sessionID))

	require.NoError(t, svc.DeleteSession(sessionID), "deleting a missing journal is not an error")
}

func TestServiceDeleteSessionFlushesPendingFirst(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-6"

	require.NoError(t, svc.SaveUpdate(sessionID, agentTextChunk(t, "unflushed tail")))
	require.True(t, svc.HasPending(sessionID))

	// A directory squatting on the journal path makes the flush append
	// fail. Delete must surface that failure instead of removing state.
	path := filepath.Join(svc.Dir(), sessionID+".jsonl")
	require.NoError(t, os.Mkdir(path, 0o755))

	require.Error(t, svc.DeleteSession(sessionID))
	fi, err := os.Stat(path)
	require.NoError(t, err, "a failed flush must not remove the journal path")
	require.True(t, fi.IsDir())
}

func TestServiceDeleteSessionDropsPendingState(t *testing.T) {
	svc := newTestService(t)
	const sessionID = "sess-7"

	require.NoError(t, svc.SaveUpdate(sessionID, agentTextChunk(t, "tail")))
	require.True(t, svc.HasPending(sessionID))

	require.NoError(t, svc.DeleteSession(sessionID))
	require.False(t, svc.HasPending(sessionID))
	require.False(t, svc.SessionFileExists(sessionID))
}

func TestServiceListSessions(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.SaveUpdate("alpha", userTextChunk(t, "a")))
	require.NoError(t, svc.SaveUpdate("beta", userTextChunk(t, "b")))

	sessions, err := svc.ListSessions()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, sessions)
}

func TestServiceRejectsUnsafeSessionIDs(t *testing.T) {
	svc := newTestService(t)

	for _, id := range []string{"", "..", "../escape", "a/b", ".hidden"} {
		require.Error(t, svc.SaveUpdate(id, userTextChunk(t, "x")), "id %q", id)
	}
}
