package camera

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaSource provides the local tracks a camera streams. Implementations
// wrap a capture device or a file playback pipeline.
type MediaSource interface {
	// Open acquires the device and returns the tracks to publish.
	Open(ctx context.Context) ([]webrtc.TrackLocal, error)

	// Close releases the device. Safe to call after a failed Open.
	Close() error
}

// StaticSource serves pre-built tracks, used by playback pipelines and
// tests.
type StaticSource struct {
	Tracks []webrtc.TrackLocal
}

// Open returns the configured tracks.
func (s *StaticSource) Open(ctx context.Context) ([]webrtc.TrackLocal, error) {
	return s.Tracks, nil
}

// Close is a no-op for static tracks.
func (s *StaticSource) Close() error { return nil }

var _ MediaSource = (*StaticSource)(nil)
