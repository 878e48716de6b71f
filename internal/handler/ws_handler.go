package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/relay"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
	"github.com/pitchside/broadcast-service/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WSHandler upgrades participants onto the signaling relay.
type WSHandler struct {
	hub *relay.Hub
}

// NewWSHandler creates the WebSocket handler.
func NewWSHandler(hub *relay.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// RegisterRoutes attaches the WebSocket route to the router.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and attaches it to the relay.
// The session and participant come from query parameters; an absent
// participant id makes the connection a viewer.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}
	participantID := c.Query("participant_id")
	if participantID == "" {
		participantID = domain.NewViewerID()
	}

	l := pkglog.L()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context dies when this handler returns; the relay owns
	// the connection's lifetime from here.
	client := relay.NewClient(h.hub, conn, sessionID, participantID)
	if err := h.hub.Register(context.Background(), client); err != nil {
		l.Error().Err(err).Msg("relay registration failed")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
