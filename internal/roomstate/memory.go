package roomstate

import (
	"context"
	"sync"
	"time"

	"github.com/pitchside/broadcast-service/internal/domain"
)

// MemoryStore is an in-process Store for single-node deployments and
// tests.
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*domain.Room
	watchers map[string][]chan *domain.Room
}

// NewMemoryStore creates an empty in-memory room store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*domain.Room),
		watchers: make(map[string][]chan *domain.Room),
	}
}

// Create ensures a room exists for the session and returns a copy.
func (s *MemoryStore) Create(ctx context.Context, sessionID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[sessionID]
	if !ok {
		room = domain.NewRoom(sessionID)
		s.rooms[sessionID] = room
	}
	return room.Clone(), nil
}

// Get returns a copy of the room.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return room.Clone(), nil
}

// SetCamera registers or unregisters a camera slot.
func (s *MemoryStore) SetCamera(ctx context.Context, sessionID string, slot int, conn *domain.CameraConnection) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}

	s.mu.Lock()
	room, ok := s.rooms[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	if conn == nil {
		delete(room.Cameras, slot)
	} else {
		camCopy := *conn
		room.Cameras[slot] = &camCopy
	}
	room.UpdatedAt = time.Now().UTC()
	s.notifyLocked(sessionID, room)
	s.mu.Unlock()
	return nil
}

// SetCameraStatus updates the status of a registered camera.
func (s *MemoryStore) SetCameraStatus(ctx context.Context, sessionID string, slot int, status domain.CameraStatus) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}

	s.mu.Lock()
	room, ok := s.rooms[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	cam, ok := room.Cameras[slot]
	if !ok {
		s.mu.Unlock()
		return ErrCameraNotRegistered
	}

	cam.Status = status
	room.UpdatedAt = time.Now().UTC()
	s.notifyLocked(sessionID, room)
	s.mu.Unlock()
	return nil
}

// SetActiveCamera selects the broadcast camera and derives IsLive.
func (s *MemoryStore) SetActiveCamera(ctx context.Context, sessionID string, slot *int) error {
	if slot != nil && !validSlot(*slot) {
		return ErrInvalidSlot
	}

	s.mu.Lock()
	room, ok := s.rooms[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	if slot == nil {
		room.ActiveCameraID = nil
	} else {
		id := *slot
		room.ActiveCameraID = &id
	}
	room.IsLive = room.ActiveCameraID != nil
	room.UpdatedAt = time.Now().UTC()
	s.notifyLocked(sessionID, room)
	s.mu.Unlock()
	return nil
}

// Watch streams a copy of the room after every change.
func (s *MemoryStore) Watch(ctx context.Context, sessionID string) (<-chan *domain.Room, error) {
	ch := make(chan *domain.Room, 16)

	s.mu.Lock()
	s.watchers[sessionID] = append(s.watchers[sessionID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		watchers := s.watchers[sessionID]
		for i, w := range watchers {
			if w == ch {
				s.watchers[sessionID] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// notifyLocked fans out a room copy to watchers. Callers hold s.mu.
func (s *MemoryStore) notifyLocked(sessionID string, room *domain.Room) {
	for _, w := range s.watchers[sessionID] {
		select {
		case w <- room.Clone():
		default:
			// Watcher is slow; it will catch up on the next change.
		}
	}
}

var _ Store = (*MemoryStore)(nil)
