package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/events/bus"
)

// AgentInfo is a registry listing entry.
type AgentInfo struct {
	Name    string              `json:"name"`
	Running bool                `json:"running"`
	Info    *acp.Implementation `json:"info,omitempty"`
}

// Manager owns the registry of agent workers. Agent configs are retained so
// restarts and proxy changes can respawn processes with the right settings.
type Manager struct {
	mu      sync.RWMutex
	agents  map[string]*AgentHandle
	configs map[string]config.AgentProcessConfig
	proxy   config.ProxyConfig

	bus         bus.EventBus
	permissions *PermissionStore
	logger      *logger.Logger
}

// NewManager creates an empty agent registry.
func NewManager(eventBus bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		agents:      make(map[string]*AgentHandle),
		configs:     make(map[string]config.AgentProcessConfig),
		bus:         eventBus,
		permissions: NewPermissionStore(),
		logger:      log.WithFields(zap.String("component", "agent-manager")),
	}
}

// Permissions returns the shared permission store.
func (m *Manager) Permissions() *PermissionStore {
	return m.permissions
}

// Initialize spawns all configured agents in the background and returns
// without waiting for handshakes, so a hung agent cannot stall startup.
// Individual startup failures are logged and skipped. Configs are retained
// either way so a failed agent can be restarted later. An empty agent set is
// a configuration error.
func (m *Manager) Initialize(ctx context.Context, agents map[string]config.AgentProcessConfig, proxy config.ProxyConfig) error {
	if len(agents) == 0 {
		return fmt.Errorf("no agents configured")
	}

	m.mu.Lock()
	m.proxy = proxy
	for name, cfg := range agents {
		m.configs[name] = cfg
	}
	m.mu.Unlock()

	for name, cfg := range agents {
		name, cfg := name, cfg
		go func() {
			h, err := spawnAgent(ctx, name, cfg, proxy, m.bus, m.permissions, m.logger)
			if err != nil {
				m.logger.Error("failed to start agent",
					zap.String("agent", name), zap.Error(err))
				return
			}

			m.mu.Lock()
			m.agents[name] = h
			m.mu.Unlock()

			m.logger.Info("agent started", zap.String("agent", name))
			m.publishLifecycle(ctx, events.AgentStarted, name)
		}()
	}

	m.logger.Info("agent initialization dispatched", zap.Int("configured", len(agents)))
	return nil
}

// ListAgents returns the registered agent names in sorted order.
func (m *Manager) ListAgents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.agents))
	for name := range m.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListAgentsWithInfo returns sorted registry entries with the cached
// implementation info from each agent's handshake.
func (m *Manager) ListAgentsWithInfo() []AgentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(m.agents))
	for name, h := range m.agents {
		infos = append(infos, AgentInfo{
			Name:    name,
			Running: h.Running(),
			Info:    h.AgentInfo(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Get returns the handle for a registered agent.
func (m *Manager) Get(name string) (*AgentHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return h, nil
}

// AddAgent spawns and registers a new agent. The name must be unused.
func (m *Manager) AddAgent(ctx context.Context, name string, cfg config.AgentProcessConfig) error {
	m.mu.Lock()
	if _, ok := m.agents[name]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentExists, name)
	}
	proxy := m.proxy
	m.mu.Unlock()

	h, err := spawnAgent(ctx, name, cfg, proxy, m.bus, m.permissions, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.agents[name]; ok {
		m.mu.Unlock()
		// Lost the race to another add; stop the duplicate worker.
		_ = h.Shutdown(ctx)
		return fmt.Errorf("%w: %s", ErrAgentExists, name)
	}
	m.agents[name] = h
	m.configs[name] = cfg
	m.mu.Unlock()

	m.publishLifecycle(ctx, events.AgentStarted, name)
	return nil
}

// RemoveAgent shuts down and unregisters an agent. Unknown names are an
// error; use RemoveAgentIfPresent for the tolerant variant.
func (m *Manager) RemoveAgent(ctx context.Context, name string) error {
	m.mu.Lock()
	h, ok := m.agents[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	delete(m.agents, name)
	delete(m.configs, name)
	m.mu.Unlock()

	if err := h.Shutdown(ctx); err != nil {
		m.logger.Warn("agent shutdown failed during removal",
			zap.String("agent", name), zap.Error(err))
	}

	m.publishLifecycle(ctx, events.AgentStopped, name)
	return nil
}

// RemoveAgentIfPresent removes the agent if registered and reports whether
// a removal happened.
func (m *Manager) RemoveAgentIfPresent(ctx context.Context, name string) bool {
	return m.RemoveAgent(ctx, name) == nil
}

// RestartAgent replaces an agent's worker with a fresh one spawned from the
// retained config. A failed shutdown of the old worker is logged but does
// not block the restart.
func (m *Manager) RestartAgent(ctx context.Context, name string) error {
	m.mu.Lock()
	old, ok := m.agents[name]
	cfg, hasCfg := m.configs[name]
	proxy := m.proxy
	m.mu.Unlock()

	if !hasCfg {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	if ok {
		if err := old.Shutdown(ctx); err != nil {
			m.logger.Warn("failed to shut down old worker during restart",
				zap.String("agent", name), zap.Error(err))
		}
	}

	h, err := spawnAgent(ctx, name, cfg, proxy, m.bus, m.permissions, m.logger)
	if err != nil {
		m.mu.Lock()
		delete(m.agents, name)
		m.mu.Unlock()
		return fmt.Errorf("failed to restart agent %q: %w", name, err)
	}

	m.mu.Lock()
	m.agents[name] = h
	m.mu.Unlock()

	m.logger.Info("agent restarted", zap.String("agent", name))
	m.publishLifecycle(ctx, events.AgentStarted, name)
	return nil
}

// UpdateProxyConfig stores new proxy settings and restarts every registered
// agent so the subprocesses pick up the new environment.
func (m *Manager) UpdateProxyConfig(ctx context.Context, proxy config.ProxyConfig) error {
	m.mu.Lock()
	m.proxy = proxy
	names := make([]string, 0, len(m.agents))
	for name := range m.agents {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := m.RestartAgent(ctx, name); err != nil {
			m.logger.Error("failed to restart agent with new proxy settings",
				zap.String("agent", name), zap.Error(err))
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("proxy update failed to restart agents: %v", failed)
	}
	return nil
}

// GetProxyConfig returns the current proxy settings.
func (m *Manager) GetProxyConfig() config.ProxyConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proxy
}

// Shutdown stops all agents concurrently, tolerating individual failures.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	agents := make(map[string]*AgentHandle, len(m.agents))
	for name, h := range m.agents {
		agents[name] = h
	}
	m.agents = make(map[string]*AgentHandle)
	m.mu.Unlock()

	var g errgroup.Group
	for name, h := range agents {
		name, h := name, h
		g.Go(func() error {
			if err := h.Shutdown(ctx); err != nil {
				m.logger.Warn("agent shutdown failed",
					zap.String("agent", name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("all agents shut down", zap.Int("count", len(agents)))
}

func (m *Manager) publishLifecycle(ctx context.Context, eventType, name string) {
	event := events.NewAgentLifecycleEvent(eventType, "agent-manager", events.AgentLifecyclePayload{
		AgentName: name,
	})
	if err := m.bus.Publish(ctx, events.SubjectAgentLifecycle, event); err != nil {
		m.logger.Debug("failed to publish agent lifecycle event",
			zap.String("agent", name), zap.Error(err))
	}
}
