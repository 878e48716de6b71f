package audit

import (
	"context"

	"github.com/pitchside/broadcast-service/pkg/log"
)

// Audit actions for the broadcast service.
const (
	ActionBroadcastStart  = "broadcast.start"
	ActionBroadcastStop   = "broadcast.stop"
	ActionCameraSwitch    = "broadcast.camera_switch"
	ActionFallbackToggle  = "broadcast.fallback_toggle"
	ActionRecordingStart  = "recording.start"
	ActionRecordingStop   = "recording.stop"
	ActionCameraRegister  = "camera.register"
	ActionCameraTeardown  = "camera.teardown"
	ActionViewerRequested = "viewer.request"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, sessionID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldSessionID, sessionID).
		Msg(msg)
}

// LogWithDetail emits an audit log with an extra detail field.
func LogWithDetail(ctx context.Context, action, sessionID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldSessionID, sessionID).
		Str(FieldDetail, detail).
		Msg(msg)
}
