package domain

import "time"

// RecordingStatus represents the recording lifecycle.
type RecordingStatus string

const (
	RecordingStatusRecording RecordingStatus = "recording"
	RecordingStatusCompleted RecordingStatus = "completed"
)

// Camera event types on the recording timeline.
const (
	EventRecordingStart = "recording-start"
	EventCameraSwitch   = "camera-switch"
	EventFallbackOn     = "fallback-on"
	EventFallbackOff    = "fallback-off"
	EventRecordingStop  = "recording-stop"
)

// RecordingSegment is one uploaded time-bounded chunk of the session
// archive. Segment numbers are strictly increasing per recording and are
// never reused. A failed upload leaves a numbered gap, which consumers
// must tolerate.
type RecordingSegment struct {
	SegmentNumber   int     `json:"segment_number"`
	URL             string  `json:"url"`
	StartTimeSec    float64 `json:"start_time_sec"`
	DurationSec     float64 `json:"duration_sec"`
	CameraID        string  `json:"camera_id"`
	IsUsingFallback bool    `json:"is_using_fallback"`
	SizeBytes       int64   `json:"size_bytes"`
}

// CameraEvent is one entry on the append-only recording timeline.
// TimestampSec is the offset from recording start.
type CameraEvent struct {
	TimestampSec     float64 `json:"timestamp_sec"`
	Type             string  `json:"type"`
	FromCameraID     string  `json:"from_camera_id,omitempty"`
	ToCameraID       string  `json:"to_camera_id,omitempty"`
	FallbackImageURL string  `json:"fallback_image_url,omitempty"`
}

// Recording is the durable archive record for one broadcast session.
// Immutable once Status is completed.
type Recording struct {
	SessionID    string             `json:"session_id"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	Duration     time.Duration      `json:"duration"`
	Status       RecordingStatus    `json:"status"`
	Segments     []RecordingSegment `json:"segments"`
	CameraEvents []CameraEvent      `json:"camera_events"`
}

// Clone returns a deep copy of the recording.
func (r *Recording) Clone() *Recording {
	c := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	c.Segments = make([]RecordingSegment, len(r.Segments))
	copy(c.Segments, r.Segments)
	c.CameraEvents = make([]CameraEvent, len(r.CameraEvents))
	copy(c.CameraEvents, r.CameraEvents)
	return &c
}
