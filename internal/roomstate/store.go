package roomstate

import (
	"context"
	"errors"

	"github.com/pitchside/broadcast-service/internal/domain"
)

var (
	// ErrSessionNotFound is returned when no room exists for a session.
	ErrSessionNotFound = errors.New("broadcast session not found")
	// ErrCameraNotRegistered is returned when a status update targets an
	// empty camera slot.
	ErrCameraNotRegistered = errors.New("camera slot not registered")
	// ErrInvalidSlot is returned for slots outside the roster bounds.
	ErrInvalidSlot = errors.New("camera slot out of range")
)

// Store holds the shared per-session room state. All mutations are
// explicit partial updates: setting one camera slot never touches its
// siblings, and the IsLive flag is derived from the active camera on
// every change, never written directly.
type Store interface {
	// Create ensures a room exists for the session and returns it.
	// Creating an existing session returns the current room unchanged.
	Create(ctx context.Context, sessionID string) (*domain.Room, error)

	// Get returns a copy of the room.
	Get(ctx context.Context, sessionID string) (*domain.Room, error)

	// SetCamera registers (non-nil) or unregisters (nil) a camera slot.
	SetCamera(ctx context.Context, sessionID string, slot int, conn *domain.CameraConnection) error

	// SetCameraStatus updates the status of a registered camera.
	SetCameraStatus(ctx context.Context, sessionID string, slot int, status domain.CameraStatus) error

	// SetActiveCamera selects the broadcast camera (nil clears the
	// selection) and derives IsLive. Clearing the active camera when a
	// camera unregisters is the caller's responsibility.
	SetActiveCamera(ctx context.Context, sessionID string, slot *int) error

	// Watch streams a copy of the room after every change. The channel is
	// closed when ctx is cancelled.
	Watch(ctx context.Context, sessionID string) (<-chan *domain.Room, error)
}

func validSlot(slot int) bool {
	return slot >= domain.MinCameraSlot && slot <= domain.MaxCameraSlot
}
