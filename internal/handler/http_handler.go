package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/pkg/response"
)

// HTTPHandler serves the read API: room state and recording metadata.
type HTTPHandler struct {
	rooms      roomstate.Store
	recordings recorder.Store
}

// NewHTTPHandler creates the read API handler.
func NewHTTPHandler(rooms roomstate.Store, recordings recorder.Store) *HTTPHandler {
	return &HTTPHandler{rooms: rooms, recordings: recordings}
}

// RegisterRoutes attaches the read API to the router.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/sessions/:id/room", h.GetRoom)
		api.GET("/sessions/:id/recording", h.GetRecording)
	}
}

// Healthz reports liveness.
func (h *HTTPHandler) Healthz(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// GetRoom returns the session's room state.
func (h *HTTPHandler) GetRoom(c *gin.Context) {
	sessionID := c.Param("id")

	room, err := h.rooms.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, roomstate.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.InternalError(c, "failed to load room")
		return
	}
	response.Success(c, room)
}

// GetRecording returns the session's recording with its segments and
// timeline.
func (h *HTTPHandler) GetRecording(c *gin.Context) {
	sessionID := c.Param("id")

	rec, err := h.recordings.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, recorder.ErrRecordingNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		response.InternalError(c, "failed to load recording")
		return
	}
	response.Success(c, rec)
}
