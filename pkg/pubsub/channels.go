package pubsub

import "fmt"

// Channel naming conventions for the broadcast system.
const (
	// ChannelBroadcastEvents carries broadcast lifecycle events for one
	// session, consumed by downstream viewers and the admin UI.
	ChannelBroadcastEvents = "broadcast:session:%s:events"

	// ChannelRoomUpdates carries room-state change notifications for one
	// session, used by the Redis room store's Watch implementation.
	ChannelRoomUpdates = "broadcast:session:%s:room"
)

// Broadcast lifecycle event types.
const (
	EventBroadcastLive    = "broadcast_live"
	EventBroadcastEnded   = "broadcast_ended"
	EventCameraSwitched   = "camera_switched"
	EventFallbackToggled  = "fallback_toggled"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
)

// BroadcastEventsChannel returns the lifecycle event channel for a session.
func BroadcastEventsChannel(sessionID string) string {
	return fmt.Sprintf(ChannelBroadcastEvents, sessionID)
}

// RoomUpdatesChannel returns the room-state notification channel for a session.
func RoomUpdatesChannel(sessionID string) string {
	return fmt.Sprintf(ChannelRoomUpdates, sessionID)
}

// CameraSwitchedPayload is published when the admin selects a new
// active camera (or clears the selection).
type CameraSwitchedPayload struct {
	SessionID    string `json:"session_id"`
	FromCameraID string `json:"from_camera_id,omitempty"`
	ToCameraID   string `json:"to_camera_id,omitempty"`
}

// FallbackToggledPayload is published when the fallback image is
// toggled on or off for the public view.
type FallbackToggledPayload struct {
	SessionID string `json:"session_id"`
	IsOn      bool   `json:"is_on"`
	ImageURL  string `json:"image_url,omitempty"`
}

// RecordingPayload is published on recording start and stop.
type RecordingPayload struct {
	SessionID string `json:"session_id"`
	CameraID  string `json:"camera_id,omitempty"`
}
