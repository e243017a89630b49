// Package server exposes the daemon's HTTP and WebSocket API.
package server

import (
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/agentx/agentx/internal/common/config"
)

// AddAgentRequest registers and starts a new agent process.
type AddAgentRequest struct {
	Name    string            `json:"name" binding:"required"`
	Command string            `json:"command" binding:"required"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// NewSessionRequest creates a session on an agent.
type NewSessionRequest struct {
	Cwd string `json:"cwd"`
}

// NewSessionResponse carries the agent-assigned session ID.
type NewSessionResponse struct {
	SessionID string `json:"session_id"`
}

// PromptRequest sends a user turn to a session.
type PromptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// PromptResponse reports how the turn ended.
type PromptResponse struct {
	StopReason string `json:"stop_reason"`
}

// SetModeRequest switches a session's mode.
type SetModeRequest struct {
	ModeID string `json:"mode_id" binding:"required"`
}

// SetModelRequest switches a session's model.
type SetModelRequest struct {
	ModelID string `json:"model_id" binding:"required"`
}

// PermissionRespondRequest resolves a pending permission request. Either
// OptionID is set or Cancelled is true.
type PermissionRespondRequest struct {
	OptionID  string `json:"option_id"`
	Cancelled bool   `json:"cancelled"`
}

// PendingPermissionResponse is one outstanding permission request.
type PendingPermissionResponse struct {
	PermissionID string `json:"permission_id"`
	AgentName    string `json:"agent_name"`
	SessionID    string `json:"session_id"`
}

// SessionHistoryResponse is a persisted session transcript.
type SessionHistoryResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []HistoryMessage `json:"messages"`
}

// HistoryMessage is one journal entry in API shape.
type HistoryMessage struct {
	Timestamp time.Time         `json:"timestamp"`
	Update    acp.SessionUpdate `json:"update"`
}

// ProxyResponse mirrors the active proxy settings, password omitted.
type ProxyResponse struct {
	Enabled       bool   `json:"enabled"`
	HTTPProxyURL  string `json:"http_proxy_url,omitempty"`
	HTTPSProxyURL string `json:"https_proxy_url,omitempty"`
	AllProxyURL   string `json:"all_proxy_url,omitempty"`
	ProxyType     string `json:"proxy_type,omitempty"`
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`
	Username      string `json:"username,omitempty"`
}

func proxyResponse(p config.ProxyConfig) ProxyResponse {
	return ProxyResponse{
		Enabled:       p.Enabled,
		HTTPProxyURL:  p.HTTPProxyURL,
		HTTPSProxyURL: p.HTTPSProxyURL,
		AllProxyURL:   p.AllProxyURL,
		ProxyType:     p.ProxyType,
		Host:          p.Host,
		Port:          p.Port,
		Username:      p.Username,
	}
}

// UpdateProxyRequest replaces the proxy settings and restarts all agents.
type UpdateProxyRequest struct {
	Enabled       bool   `json:"enabled"`
	HTTPProxyURL  string `json:"http_proxy_url"`
	HTTPSProxyURL string `json:"https_proxy_url"`
	AllProxyURL   string `json:"all_proxy_url"`
	ProxyType     string `json:"proxy_type"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

func (r *UpdateProxyRequest) toConfig() config.ProxyConfig {
	return config.ProxyConfig{
		Enabled:       r.Enabled,
		HTTPProxyURL:  r.HTTPProxyURL,
		HTTPSProxyURL: r.HTTPSProxyURL,
		AllProxyURL:   r.AllProxyURL,
		ProxyType:     r.ProxyType,
		Host:          r.Host,
		Port:          r.Port,
		Username:      r.Username,
		Password:      r.Password,
	}
}
