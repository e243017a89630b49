package server

import (
	"errors"
	"net/http"
	"os"

	acp "github.com/coder/acp-go-sdk"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/message"
)

// Handler contains the HTTP handlers for the daemon API.
type Handler struct {
	agents     *agent.Manager
	messages   *message.Service
	mcpServers []acp.McpServer
	logger     *logger.Logger
}

// NewHandler creates the API handler set.
func NewHandler(agents *agent.Manager, messages *message.Service, mcpServers []acp.McpServer, log *logger.Logger) *Handler {
	return &Handler{
		agents:     agents,
		messages:   messages,
		mcpServers: mcpServers,
		logger:     log.WithFields(zap.String("component", "api")),
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound), errors.Is(err, agent.ErrPermissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrAgentExists):
		return http.StatusConflict
	case errors.Is(err, agent.ErrLoadSessionUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrAgentNotRunning), errors.Is(err, agent.ErrAgentStopped),
		errors.Is(err, agent.ErrAgentExited):
		return http.StatusServiceUnavailable
	case errors.Is(err, agent.ErrPermissionReceiverDropped):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// ListAgents returns all registered agents with their handshake info.
// GET /api/v1/agents
func (h *Handler) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.agents.ListAgentsWithInfo()})
}

// AddAgent starts and registers a new agent process.
// POST /api/v1/agents
func (h *Handler) AddAgent(c *gin.Context) {
	var req AddAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := config.AgentProcessConfig{
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
	}
	if err := h.agents.AddAgent(c.Request.Context(), req.Name, cfg); err != nil {
		h.logger.Error("failed to add agent", zap.String("agent", req.Name), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

// RemoveAgent shuts down and unregisters an agent.
// DELETE /api/v1/agents/:name
func (h *Handler) RemoveAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.agents.RemoveAgent(c.Request.Context(), name); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

// RestartAgent replaces an agent's process with a fresh one.
// POST /api/v1/agents/:name/restart
func (h *Handler) RestartAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.agents.RestartAgent(c.Request.Context(), name); err != nil {
		h.logger.Error("failed to restart agent", zap.String("agent", name), zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

// GetAgentInfo returns the agent's initialize handshake response.
// GET /api/v1/agents/:name/info
func (h *Handler) GetAgentInfo(c *gin.Context) {
	handle, err := h.agents.Get(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := handle.InitResponse()
	if resp == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent has not completed its handshake"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// NewSession creates a session on an agent. Configured MCP servers are
// offered to every session.
// POST /api/v1/agents/:name/sessions
func (h *Handler) NewSession(c *gin.Context) {
	handle, err := h.agents.Get(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Body is optional; an absent cwd falls back to the daemon's working dir.
	var req NewSessionRequest
	_ = c.ShouldBindJSON(&req)
	cwd := req.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	resp, err := handle.NewSession(c.Request.Context(), acp.NewSessionRequest{
		Cwd:        cwd,
		McpServers: h.mcpServers,
	})
	if err != nil {
		h.logger.Error("failed to create session",
			zap.String("agent", handle.Name()), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewSessionResponse{SessionID: string(resp.SessionId)})
}

// LoadSession resumes an existing session on an agent.
// POST /api/v1/agents/:name/sessions/:sessionId/load
func (h *Handler) LoadSession(c *gin.Context) {
	handle, err := h.agents.Get(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req NewSessionRequest
	_ = c.ShouldBindJSON(&req)
	cwd := req.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	sessionID := c.Param("sessionId")
	if _, err := handle.LoadSession(c.Request.Context(), acp.LoadSessionRequest{
		SessionId:  acp.SessionId(sessionID),
		Cwd:        cwd,
		McpServers: h.mcpServers,
	}); err != nil {
		h.logger.Error("failed to load session",
			zap.String("agent", handle.Name()),
			zap.String("session_id", sessionID),
			zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// Prompt sends a user turn and blocks until the agent finishes it.
// POST /api/v1/agents/:name/sessions/:sessionId/prompt
func (h *Handler) Prompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.messages.SendText(c.Request.Context(), c.Param("name"), c.Param("sessionId"), req.Prompt)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, PromptResponse{StopReason: string(resp.StopReason)})
}

// CancelPrompt aborts the in-flight turn of a session.
// POST /api/v1/agents/:name/sessions/:sessionId/cancel
func (h *Handler) CancelPrompt(c *gin.Context) {
	if err := h.messages.Cancel(c.Request.Context(), c.Param("name"), c.Param("sessionId")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": c.Param("sessionId")})
}

// SetSessionMode switches a session's mode.
// POST /api/v1/agents/:name/sessions/:sessionId/mode
func (h *Handler) SetSessionMode(c *gin.Context) {
	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, err := h.agents.Get(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	sessionID := c.Param("sessionId")
	if err := handle.SetSessionMode(c.Request.Context(), acp.SessionId(sessionID), acp.SessionModeId(req.ModeID)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "mode_id": req.ModeID})
}

// SetSessionModel switches a session's model.
// POST /api/v1/agents/:name/sessions/:sessionId/model
func (h *Handler) SetSessionModel(c *gin.Context) {
	var req SetModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, err := h.agents.Get(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	sessionID := c.Param("sessionId")
	if err := handle.SetSessionModel(c.Request.Context(), acp.SessionId(sessionID), req.ModelID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "model_id": req.ModelID})
}

// ListSessions returns the IDs of sessions with persisted history.
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.messages.ListSessions()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSessionHistory returns the persisted transcript of a session.
// GET /api/v1/sessions/:sessionId/history
func (h *Handler) GetSessionHistory(c *gin.Context) {
	sessionID := c.Param("sessionId")
	messages, err := h.messages.LoadHistory(sessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]HistoryMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, HistoryMessage{Timestamp: m.Timestamp, Update: m.Update})
	}
	c.JSON(http.StatusOK, SessionHistoryResponse{SessionID: sessionID, Messages: out})
}

// DeleteSession removes a session's persisted history.
// DELETE /api/v1/sessions/:sessionId
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.messages.DeleteHistory(sessionID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// ListPermissions returns the outstanding permission requests.
// GET /api/v1/permissions
func (h *Handler) ListPermissions(c *gin.Context) {
	pending := h.agents.Permissions().List()
	out := make([]PendingPermissionResponse, 0, len(pending))
	for id, p := range pending {
		out = append(out, PendingPermissionResponse{
			PermissionID: id,
			AgentName:    p.AgentName,
			SessionID:    string(p.SessionID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"permissions": out})
}

// RespondPermission resolves a pending permission request.
// POST /api/v1/permissions/:id/respond
func (h *Handler) RespondPermission(c *gin.Context) {
	var req PermissionRespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Cancelled && req.OptionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option_id is required unless cancelled"})
		return
	}

	var outcome acp.RequestPermissionOutcome
	if req.Cancelled {
		outcome.Cancelled = &acp.RequestPermissionOutcomeCancelled{}
	} else {
		outcome.Selected = &acp.RequestPermissionOutcomeSelected{
			OptionId: acp.PermissionOptionId(req.OptionID),
		}
	}

	id := c.Param("id")
	if err := h.agents.Permissions().Respond(id, outcome); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permission_id": id})
}

// GetProxy returns the active proxy settings.
// GET /api/v1/proxy
func (h *Handler) GetProxy(c *gin.Context) {
	c.JSON(http.StatusOK, proxyResponse(h.agents.GetProxyConfig()))
}

// UpdateProxy replaces the proxy settings and restarts all agents so their
// subprocess environments pick up the change.
// PUT /api/v1/proxy
func (h *Handler) UpdateProxy(c *gin.Context) {
	var req UpdateProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.agents.UpdateProxyConfig(c.Request.Context(), req.toConfig()); err != nil {
		h.logger.Error("proxy update failed", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, proxyResponse(h.agents.GetProxyConfig()))
}
