package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events/bus"
	"github.com/agentx/agentx/internal/message"
	"github.com/agentx/agentx/internal/persistence"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	persist, err := persistence.NewService(t.TempDir(), log)
	require.NoError(t, err)

	agents := agent.NewManager(eventBus, log)
	messages := message.NewService(eventBus, agents, persist, log)

	router := gin.New()
	SetupRoutes(router, NewHandler(agents, messages, nil, log), NewWSHandler(eventBus, log))
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListAgentsEmpty(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Agents []agent.AgentInfo `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Empty(t, resp.Agents)
}

func TestAddAgentValidatesRequest(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/agents", `{"name":"claude"}`)
	require.Equal(t, http.StatusBadRequest, w.Code, "command is required")
}

func TestRemoveUnknownAgent(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodDelete, "/api/v1/agents/ghost", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestartUnknownAgent(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/agents/ghost/restart", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromptUnknownAgent(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/agents/ghost/sessions/s1/prompt", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromptRequiresBody(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/agents/ghost/sessions/s1/prompt", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHistoryEmpty(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/sessions/unknown/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SessionHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "unknown", resp.SessionID)
	require.Empty(t, resp.Messages)
}

func TestListSessionsEmpty(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodDelete, "/api/v1/sessions/nope", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRespondPermissionUnknownID(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/permissions/99/respond", `{"option_id":"allow-once"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRespondPermissionRequiresDecision(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/permissions/1/respond", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPermissionsEmpty(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/permissions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Permissions []PendingPermissionResponse `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Empty(t, resp.Permissions)
}

func TestProxyRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/proxy", "")
	require.Equal(t, http.StatusOK, w.Code)

	var initial ProxyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &initial))
	require.False(t, initial.Enabled)

	w = doRequest(router, http.MethodPut, "/api/v1/proxy",
		`{"enabled":true,"http_proxy_url":"http://127.0.0.1:3128"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var updated ProxyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.True(t, updated.Enabled)
	require.Equal(t, "http://127.0.0.1:3128", updated.HTTPProxyURL)
}

func TestModeRequiresBody(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/agents/ghost/sessions/s1/mode", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelUnknownAgent(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/agents/ghost/sessions/s1/cancel", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}
