package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Participant identifiers on the signaling channel.
const (
	ParticipantAdmin = "admin"

	viewerPrefix = "viewer-"
	cameraPrefix = "camera"
)

// MinCameraSlot and MaxCameraSlot bound the camera roster.
const (
	MinCameraSlot = 1
	MaxCameraSlot = 4
)

// CameraParticipant returns the participant id for a camera slot.
func CameraParticipant(slot int) string {
	return fmt.Sprintf("%s%d", cameraPrefix, slot)
}

// NewViewerID generates a unique viewer participant id.
func NewViewerID() string {
	return viewerPrefix + uuid.New().String()
}

// IsViewer reports whether the participant id belongs to a viewer.
func IsViewer(participantID string) bool {
	return strings.HasPrefix(participantID, viewerPrefix)
}

// CameraSlot parses the slot out of a camera participant id.
// Returns 0 if the id is not a camera participant.
func CameraSlot(participantID string) int {
	if !strings.HasPrefix(participantID, cameraPrefix) {
		return 0
	}
	slot, err := strconv.Atoi(strings.TrimPrefix(participantID, cameraPrefix))
	if err != nil || slot < MinCameraSlot || slot > MaxCameraSlot {
		return 0
	}
	return slot
}

// CameraStatus represents the connection status of a registered camera.
type CameraStatus string

const (
	// CameraConnecting is set at registration, before any negotiation.
	CameraConnecting CameraStatus = "connecting"
	// CameraConnected is set once the answer for the camera's offer has
	// been applied. Negotiation is complete at the signaling level, but
	// the transport may not be established yet.
	CameraConnected CameraStatus = "connected"
	// CameraStreaming is set when the transport reports an established
	// connection.
	CameraStreaming CameraStatus = "streaming"
	// CameraDisconnected is terminal; recovery requires re-registration.
	CameraDisconnected CameraStatus = "disconnected"
)

// CameraConnection is one registered camera's entry in the room roster.
type CameraConnection struct {
	Slot        int          `json:"slot"`
	SessionID   string       `json:"session_id"`
	Status      CameraStatus `json:"status"`
	DeviceName  string       `json:"device_name,omitempty"`
	ConnectedAt time.Time    `json:"connected_at"`
}

// Room is the shared per-session broadcast state: which cameras are
// registered, which one feeds the public broadcast, and whether the
// broadcast is live.
//
// Invariant: IsLive == (ActiveCameraID != nil). The room store derives
// IsLive on every active-camera mutation; it is never set independently.
type Room struct {
	SessionID      string                    `json:"session_id"`
	Cameras        map[int]*CameraConnection `json:"cameras"`
	ActiveCameraID *int                      `json:"active_camera_id,omitempty"`
	IsLive         bool                      `json:"is_live"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// NewRoom creates an empty room for a broadcast session.
func NewRoom(sessionID string) *Room {
	return &Room{
		SessionID: sessionID,
		Cameras:   make(map[int]*CameraConnection),
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the room. Stores hand out clones so that
// callers can never mutate shared state behind the store's back.
func (r *Room) Clone() *Room {
	c := &Room{
		SessionID: r.SessionID,
		Cameras:   make(map[int]*CameraConnection, len(r.Cameras)),
		IsLive:    r.IsLive,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ActiveCameraID != nil {
		id := *r.ActiveCameraID
		c.ActiveCameraID = &id
	}
	for slot, cam := range r.Cameras {
		if cam == nil {
			continue
		}
		camCopy := *cam
		c.Cameras[slot] = &camCopy
	}
	return c
}
