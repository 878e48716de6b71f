package broadcast

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// trackSource bridges the admin's inbound RTP tracks to the recorder.
// One reader goroutine runs per received track; only packets from the
// active camera reach the recorder, so a camera switch changes the feed
// without renegotiating anything.
type trackSource struct {
	mu     sync.Mutex
	active string

	data chan []byte
}

func newTrackSource() *trackSource {
	return &trackSource{data: make(chan []byte, 256)}
}

// Read returns the next packet from the active camera.
func (s *trackSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case pkt := <-s.data:
		return pkt, nil
	}
}

// SetActive selects which participant's packets feed the recorder. An
// empty id mutes the source.
func (s *trackSource) SetActive(participantID string) {
	s.mu.Lock()
	s.active = participantID
	s.mu.Unlock()
}

// Capture drains one remote track until it ends. Packets from inactive
// cameras are discarded; a full buffer drops packets rather than stall
// the track reader.
func (s *trackSource) Capture(participantID string, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}

		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if active != participantID {
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case s.data <- pkt:
		default:
		}
	}
}
