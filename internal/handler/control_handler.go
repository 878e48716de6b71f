package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/broadcast-service/internal/broadcast"
	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/pkg/response"
)

// ControlHandler serves the admin control API for broadcast sessions.
type ControlHandler struct {
	service *broadcast.Service
}

// NewControlHandler creates the control API handler.
func NewControlHandler(service *broadcast.Service) *ControlHandler {
	return &ControlHandler{service: service}
}

// RegisterRoutes attaches the control API to the router.
func (h *ControlHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/sessions/:id/open", h.OpenSession)
		api.POST("/sessions/:id/close", h.CloseSession)
		api.PUT("/sessions/:id/active-camera", h.SetActiveCamera)
		api.POST("/sessions/:id/recording/start", h.StartRecording)
		api.POST("/sessions/:id/recording/stop", h.StopRecording)
		api.PUT("/sessions/:id/fallback", h.SetFallback)
		api.POST("/sessions/:id/viewers", h.RequestViewer)
		api.POST("/sessions/:id/cameras/:slot/zoom", h.Zoom)
	}
}

type activeCameraRequest struct {
	// Slot is null to clear the selection.
	Slot *int `json:"slot"`
}

type fallbackRequest struct {
	On       bool   `json:"on"`
	ImageURL string `json:"image_url"`
}

type viewerRequest struct {
	Slot int `json:"slot" binding:"required"`
}

type zoomRequest struct {
	Level float64 `json:"level"`
}

type slotURI struct {
	Slot int `uri:"slot" binding:"required"`
}

// OpenSession starts hosting a broadcast session.
func (h *ControlHandler) OpenSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.service.Open(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, broadcast.ErrSessionActive) {
			response.BadRequest(c, "session already active")
			return
		}
		response.InternalError(c, "failed to open session")
		return
	}
	response.Success(c, gin.H{"session_id": sessionID})
}

// CloseSession ends a broadcast session, flushing any running recording.
func (h *ControlHandler) CloseSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.service.Close(c.Request.Context(), sessionID); err != nil {
		h.controlError(c, err, "failed to close session")
		return
	}
	response.Success(c, gin.H{"session_id": sessionID})
}

// SetActiveCamera selects the camera feeding the broadcast, or clears it
// with a null slot.
func (h *ControlHandler) SetActiveCamera(c *gin.Context) {
	sessionID := c.Param("id")

	var req activeCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if req.Slot != nil && (*req.Slot < domain.MinCameraSlot || *req.Slot > domain.MaxCameraSlot) {
		response.BadRequest(c, "camera slot out of range")
		return
	}

	if err := h.service.SetActiveCamera(c.Request.Context(), sessionID, req.Slot); err != nil {
		h.controlError(c, err, "failed to switch camera")
		return
	}
	response.Success(c, gin.H{"slot": req.Slot})
}

// StartRecording begins archiving the active camera's feed.
func (h *ControlHandler) StartRecording(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.service.StartRecording(c.Request.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, broadcast.ErrNoActiveCamera):
			response.BadRequest(c, "no active camera selected")
		case errors.Is(err, recorder.ErrAlreadyRecording):
			response.BadRequest(c, "recording already in progress")
		default:
			h.controlError(c, err, "failed to start recording")
		}
		return
	}
	response.Success(c, gin.H{"session_id": sessionID})
}

// StopRecording ends the recording and returns the completed record.
// Stopping when idle succeeds with a null recording.
func (h *ControlHandler) StopRecording(c *gin.Context) {
	sessionID := c.Param("id")

	rec, err := h.service.StopRecording(c.Request.Context(), sessionID)
	if err != nil {
		h.controlError(c, err, "failed to stop recording")
		return
	}
	response.Success(c, rec)
}

// SetFallback toggles the public fallback image.
func (h *ControlHandler) SetFallback(c *gin.Context) {
	sessionID := c.Param("id")

	var req fallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	if err := h.service.SetFallback(c.Request.Context(), sessionID, req.On, req.ImageURL); err != nil {
		h.controlError(c, err, "failed to toggle fallback")
		return
	}
	response.Success(c, gin.H{"on": req.On})
}

// RequestViewer asks a camera for a dedicated viewer connection.
func (h *ControlHandler) RequestViewer(c *gin.Context) {
	sessionID := c.Param("id")

	var req viewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if req.Slot < domain.MinCameraSlot || req.Slot > domain.MaxCameraSlot {
		response.BadRequest(c, "camera slot out of range")
		return
	}

	viewerID, err := h.service.RequestViewer(c.Request.Context(), sessionID, req.Slot)
	if err != nil {
		h.controlError(c, err, "failed to request viewer")
		return
	}
	response.Success(c, gin.H{"viewer_id": viewerID})
}

// Zoom forwards an informational zoom command to a camera.
func (h *ControlHandler) Zoom(c *gin.Context) {
	sessionID := c.Param("id")

	var uri slotURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid camera slot")
		return
	}
	if uri.Slot < domain.MinCameraSlot || uri.Slot > domain.MaxCameraSlot {
		response.BadRequest(c, "camera slot out of range")
		return
	}

	var req zoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	if err := h.service.Zoom(c.Request.Context(), sessionID, uri.Slot, req.Level); err != nil {
		h.controlError(c, err, "failed to send zoom command")
		return
	}
	response.Success(c, gin.H{"slot": uri.Slot, "level": req.Level})
}

func (h *ControlHandler) controlError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, broadcast.ErrNoSession):
		response.NotFound(c, "session not active")
	case errors.Is(err, roomstate.ErrSessionNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, roomstate.ErrCameraNotRegistered):
		response.BadRequest(c, "camera not registered")
	case errors.Is(err, roomstate.ErrInvalidSlot):
		response.BadRequest(c, "camera slot out of range")
	default:
		response.InternalError(c, fallback)
	}
}
