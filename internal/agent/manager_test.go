package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/events/bus"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)
	return NewManager(eventBus, log)
}

func TestManagerEmptyRegistry(t *testing.T) {
	m := newTestManager(t)

	require.Empty(t, m.ListAgents())
	require.Empty(t, m.ListAgentsWithInfo())

	_, err := m.Get("ghost")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestManagerRemoveUnknownAgent(t *testing.T) {
	m := newTestManager(t)

	err := m.RemoveAgent(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrAgentNotFound)
	require.False(t, m.RemoveAgentIfPresent(context.Background(), "ghost"))
}

func TestManagerRestartUnknownAgent(t *testing.T) {
	m := newTestManager(t)

	err := m.RestartAgent(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestManagerAddAgentSpawnFailure(t *testing.T) {
	m := newTestManager(t)

	err := m.AddAgent(context.Background(), "broken", config.AgentProcessConfig{
		Command: "/nonexistent/agent-binary",
	})
	require.Error(t, err)
	require.Empty(t, m.ListAgents(), "failed spawn must not register the agent")
}

func TestManagerInitializeRejectsEmptyConfig(t *testing.T) {
	m := newTestManager(t)

	err := m.Initialize(context.Background(), nil, config.ProxyConfig{})
	require.Error(t, err)
}

func TestManagerInitializeToleratesFailures(t *testing.T) {
	m := newTestManager(t)

	// Spawning happens in the background; a broken agent never registers.
	err := m.Initialize(context.Background(), map[string]config.AgentProcessConfig{
		"broken": {Command: "/nonexistent/agent-binary"},
	}, config.ProxyConfig{})
	require.NoError(t, err)
	require.Empty(t, m.ListAgents())

	// Config is retained so the agent can be restarted once fixed; the
	// restart still fails here because the binary is missing.
	restartErr := m.RestartAgent(context.Background(), "broken")
	require.Error(t, restartErr)
	require.NotErrorIs(t, restartErr, ErrAgentNotFound)
	require.Empty(t, m.ListAgents())
}

func TestManagerProxyConfigRoundTrip(t *testing.T) {
	m := newTestManager(t)

	require.False(t, m.GetProxyConfig().Enabled)

	proxy := config.ProxyConfig{Enabled: true, HTTPProxyURL: "http://127.0.0.1:3128"}
	require.NoError(t, m.UpdateProxyConfig(context.Background(), proxy), "no agents to restart")
	require.Equal(t, proxy, m.GetProxyConfig())
}

func TestManagerShutdownEmpty(t *testing.T) {
	m := newTestManager(t)
	m.Shutdown(context.Background())
	require.Empty(t, m.ListAgents())
}
