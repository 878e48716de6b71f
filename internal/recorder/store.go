package recorder

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pitchside/broadcast-service/internal/domain"
)

// ErrRecordingNotFound is returned when no recording exists for a session.
var ErrRecordingNotFound = errors.New("recording not found")

// Store persists recording metadata. Within a recording, segments and
// events are append-only: a write never replaces or reorders previously
// persisted entries, so a crash between appends can lose at most the
// unwritten tail, never earlier segments.
type Store interface {
	// Create persists a new recording in status recording. A session
	// records at most one recording at a time; Create for a session that
	// already has one supersedes it, clearing its journal.
	Create(ctx context.Context, rec *domain.Recording) error

	// AppendSegment persists one finished segment.
	AppendSegment(ctx context.Context, sessionID string, seg domain.RecordingSegment) error

	// AppendEvent persists one timeline event.
	AppendEvent(ctx context.Context, sessionID string, event domain.CameraEvent) error

	// Complete marks the recording finished with its final duration.
	Complete(ctx context.Context, sessionID string, rec *domain.Recording) error

	// Get loads a recording with its segments and events.
	Get(ctx context.Context, sessionID string) (*domain.Recording, error)
}

// MemoryStore is an in-process Store for single-node deployments and
// tests.
type MemoryStore struct {
	mu         sync.Mutex
	recordings map[string]*domain.Recording
}

// NewMemoryStore creates an empty in-memory recording store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recordings: make(map[string]*domain.Recording)}
}

// Create persists a new recording.
func (s *MemoryStore) Create(ctx context.Context, rec *domain.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[rec.SessionID] = rec.Clone()
	return nil
}

// AppendSegment persists one finished segment in segment-number order.
func (s *MemoryStore) AppendSegment(ctx context.Context, sessionID string, seg domain.RecordingSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[sessionID]
	if !ok {
		return ErrRecordingNotFound
	}
	rec.Segments = append(rec.Segments, seg)
	sort.Slice(rec.Segments, func(i, j int) bool {
		return rec.Segments[i].SegmentNumber < rec.Segments[j].SegmentNumber
	})
	return nil
}

// AppendEvent persists one timeline event.
func (s *MemoryStore) AppendEvent(ctx context.Context, sessionID string, event domain.CameraEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[sessionID]
	if !ok {
		return ErrRecordingNotFound
	}
	rec.CameraEvents = append(rec.CameraEvents, event)
	return nil
}

// Complete marks the recording finished.
func (s *MemoryStore) Complete(ctx context.Context, sessionID string, rec *domain.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.recordings[sessionID]
	if !ok {
		return ErrRecordingNotFound
	}
	stored.EndedAt = rec.EndedAt
	stored.Duration = rec.Duration
	stored.Status = domain.RecordingStatusCompleted
	return nil
}

// Get loads a copy of the recording.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*domain.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[sessionID]
	if !ok {
		return nil, ErrRecordingNotFound
	}
	return rec.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
