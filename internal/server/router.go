package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures the daemon API routes.
func SetupRoutes(router *gin.Engine, handler *Handler, ws *WSHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "agentx"})
	})

	v1 := router.Group("/api/v1")
	{
		agents := v1.Group("/agents")
		{
			agents.GET("", handler.ListAgents)
			agents.POST("", handler.AddAgent)
			agents.DELETE("/:name", handler.RemoveAgent)
			agents.POST("/:name/restart", handler.RestartAgent)
			agents.GET("/:name/info", handler.GetAgentInfo)

			agents.POST("/:name/sessions", handler.NewSession)
			sessions := agents.Group("/:name/sessions/:sessionId")
			{
				sessions.POST("/load", handler.LoadSession)
				sessions.POST("/prompt", handler.Prompt)
				sessions.POST("/cancel", handler.CancelPrompt)
				sessions.POST("/mode", handler.SetSessionMode)
				sessions.POST("/model", handler.SetSessionModel)
			}
		}

		v1.GET("/sessions", handler.ListSessions)
		v1.GET("/sessions/:sessionId/history", handler.GetSessionHistory)
		v1.DELETE("/sessions/:sessionId", handler.DeleteSession)

		v1.GET("/permissions", handler.ListPermissions)
		v1.POST("/permissions/:id/respond", handler.RespondPermission)

		v1.GET("/proxy", handler.GetProxy)
		v1.PUT("/proxy", handler.UpdateProxy)
	}

	router.GET("/ws/sessions/:sessionId", ws.StreamSession)
}
