package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/httpmw"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events/bus"
	"github.com/agentx/agentx/internal/message"
)

// Server owns the HTTP listener serving the daemon API.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// New builds the gin engine, wires all routes and returns the server.
func New(cfg *config.Config, agents *agent.Manager, messages *message.Service, eventBus bus.EventBus, log *logger.Logger) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "agentx"))
	router.Use(httpmw.CORS())

	handler := NewHandler(agents, messages, cfg.McpServersForACP(), log)
	ws := NewWSHandler(eventBus, log)
	SetupRoutes(router, handler, ws)

	return &Server{
		// No WriteTimeout: prompt requests block for the whole turn and
		// can legitimately run for minutes.
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: cfg.Server.ReadTimeoutDuration(),
		},
		logger: log.WithFields(zap.String("component", "http-server")),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
