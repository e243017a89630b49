package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/events/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback by default
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// StreamFrame is one message pushed to a WebSocket client.
type StreamFrame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}

// WSHandler streams session traffic to WebSocket clients. Each connection
// subscribes to its session's update and status subjects plus the shared
// permission subject, filtered by session.
type WSHandler struct {
	bus    bus.EventBus
	logger *logger.Logger
}

// NewWSHandler creates the WebSocket streaming handler.
func NewWSHandler(eventBus bus.EventBus, log *logger.Logger) *WSHandler {
	return &WSHandler{
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "ws")),
	}
}

// StreamSession streams updates, status changes and permission requests for
// one session until the client disconnects.
// GET /ws/sessions/:sessionId
func (h *WSHandler) StreamSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	log := h.logger.WithFields(
		zap.String("client_id", clientID),
		zap.String("session_id", sessionID))
	log.Info("websocket client connected")

	send := make(chan StreamFrame, wsSendBuffer)
	done := make(chan struct{})

	subs := h.subscribe(sessionID, send, done, log)

	go h.writePump(conn, send, done, log)
	h.readPump(conn, log)

	// Client is gone; tear down in reverse order.
	close(done)
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	_ = conn.Close()
	log.Info("websocket client disconnected")
}

// subscribe wires the session's bus subjects into the send channel. A full
// send buffer drops the frame rather than blocking the bus.
func (h *WSHandler) subscribe(sessionID string, send chan<- StreamFrame, done <-chan struct{}, log *logger.Logger) []bus.Subscription {
	push := func(frame StreamFrame) {
		select {
		case send <- frame:
		case <-done:
		default:
			log.Warn("dropping frame for slow websocket client",
				zap.String("type", frame.Type))
		}
	}

	var subs []bus.Subscription

	updateSub, err := h.bus.Subscribe(events.SubjectSessionUpdate(sessionID), func(ctx context.Context, e *bus.Event) error {
		payload, err := events.SessionUpdateFromEvent(e)
		if err != nil {
			return nil
		}
		push(StreamFrame{Type: "session_update", SessionID: sessionID, Payload: payload})
		return nil
	})
	if err == nil {
		subs = append(subs, updateSub)
	} else {
		log.Error("failed to subscribe to session updates", zap.Error(err))
	}

	statusSub, err := h.bus.Subscribe(events.SubjectSessionStatus(sessionID), func(ctx context.Context, e *bus.Event) error {
		payload, err := events.SessionStatusFromEvent(e)
		if err != nil {
			return nil
		}
		push(StreamFrame{Type: "session_status", SessionID: sessionID, Payload: payload})
		return nil
	})
	if err == nil {
		subs = append(subs, statusSub)
	} else {
		log.Error("failed to subscribe to session status", zap.Error(err))
	}

	permSub, err := h.bus.Subscribe(events.SubjectPermissionReq, func(ctx context.Context, e *bus.Event) error {
		payload, err := events.PermissionRequestFromEvent(e)
		if err != nil || payload.SessionID != sessionID {
			return nil
		}
		push(StreamFrame{Type: "permission_request", SessionID: sessionID, Payload: payload})
		return nil
	})
	if err == nil {
		subs = append(subs, permSub)
	} else {
		log.Error("failed to subscribe to permission requests", zap.Error(err))
	}

	return subs
}

// writePump serializes frames onto the connection and keeps it alive with
// pings. Exits when done closes or a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, send <-chan StreamFrame, done <-chan struct{}, log *logger.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump drains client messages until the connection drops. Inbound
// payloads are ignored; the stream is one-way.
func (h *WSHandler) readPump(conn *websocket.Conn, log *logger.Logger) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}
