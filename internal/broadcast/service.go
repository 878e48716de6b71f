package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pitchside/broadcast-service/internal/admin"
	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
	"github.com/pitchside/broadcast-service/pkg/pubsub"
)

var (
	// ErrSessionActive is returned when opening an already open session.
	ErrSessionActive = errors.New("broadcast session already active")
	// ErrNoSession is returned for operations on a session that is not
	// open.
	ErrNoSession = errors.New("broadcast session not active")
	// ErrNoActiveCamera is returned when recording starts with no camera
	// selected.
	ErrNoActiveCamera = errors.New("no active camera selected")
)

// Service hosts the admin side of broadcast sessions: one admin manager
// and one recorder per open session, fed by the cameras negotiating over
// the signaling channel.
type Service struct {
	channel     signaling.Channel
	rooms       roomstate.Store
	peerFactory peer.Factory
	recordings  recorder.Store
	uploader    *recorder.Uploader
	spoolDir    string
	segInterval time.Duration
	events      pubsub.Publisher

	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	admin  *admin.Manager
	rec    *recorder.Recorder
	source *trackSource
	cancel context.CancelFunc
}

// ServiceConfig holds the dependencies for the broadcast service.
type ServiceConfig struct {
	Channel        signaling.Channel
	Rooms          roomstate.Store
	PeerFactory    peer.Factory
	RecordingStore recorder.Store
	Uploader       *recorder.Uploader
	SpoolDir       string

	// SegmentInterval is the recorder rotation period. Zero selects the
	// recorder default.
	SegmentInterval time.Duration

	// Events is optional; when set, broadcast lifecycle events are
	// published for downstream consumers.
	Events pubsub.Publisher
}

// NewService creates the broadcast session service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		channel:     cfg.Channel,
		rooms:       cfg.Rooms,
		peerFactory: cfg.PeerFactory,
		recordings:  cfg.RecordingStore,
		uploader:    cfg.Uploader,
		spoolDir:    cfg.SpoolDir,
		segInterval: cfg.SegmentInterval,
		events:      cfg.Events,
		sessions:    make(map[string]*session),
		log:         pkglog.L().With().Str(pkglog.FieldLogType, "broadcast").Logger(),
	}
}

// Open starts hosting a session: the room is created and the admin
// manager begins answering camera offers. Received tracks feed the
// session's recorder source.
func (s *Service) Open(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.mu.Unlock()

	source := newTrackSource()
	adm := admin.New(admin.Config{
		SessionID:   sessionID,
		Channel:     s.channel,
		Rooms:       s.rooms,
		PeerFactory: s.peerFactory,
		Events:      s.events,
	})
	if err := adm.Start(ctx); err != nil {
		return fmt.Errorf("start admin: %w", err)
	}

	rec := recorder.New(recorder.Config{
		SessionID:       sessionID,
		Source:          source,
		Store:           s.recordings,
		Uploader:        s.uploader,
		SpoolDir:        s.spoolDir,
		SegmentInterval: s.segInterval,
		Events:          s.events,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		err := adm.Listen(runCtx, func(participantID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			go source.Capture(participantID, track)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str(pkglog.FieldSessionID, sessionID).Msg("admin listener stopped")
		}
	}()

	s.mu.Lock()
	s.sessions[sessionID] = &session{admin: adm, rec: rec, source: source, cancel: cancel}
	s.mu.Unlock()

	s.publish(ctx, sessionID, pubsub.EventBroadcastLive, pubsub.RecordingPayload{SessionID: sessionID})
	s.log.Info().Str(pkglog.FieldSessionID, sessionID).Msg("broadcast session opened")
	return nil
}

// Close ends a session: any running recording is stopped and flushed,
// the listener stops, and all camera peers are released.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if _, err := sess.rec.Stop(ctx); err != nil {
		s.log.Warn().Err(err).Str(pkglog.FieldSessionID, sessionID).Msg("recording stop during close failed")
	}
	sess.cancel()
	sess.admin.Close()

	s.publish(ctx, sessionID, pubsub.EventBroadcastEnded, pubsub.RecordingPayload{SessionID: sessionID})
	s.log.Info().Str(pkglog.FieldSessionID, sessionID).Msg("broadcast session closed")
	return nil
}

// Shutdown closes every open session.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Close(ctx, id); err != nil && !errors.Is(err, ErrNoSession) {
			s.log.Warn().Err(err).Str(pkglog.FieldSessionID, id).Msg("session close during shutdown failed")
		}
	}
}

// SetActiveCamera selects the camera feeding the public broadcast, or
// clears the selection with nil. A running recording rotates its segment
// at the switch boundary.
func (s *Service) SetActiveCamera(ctx context.Context, sessionID string, slot *int) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}

	if err := sess.admin.SetActiveCamera(ctx, slot); err != nil {
		return err
	}

	if slot == nil {
		sess.source.SetActive("")
		return nil
	}
	cameraID := domain.CameraParticipant(*slot)
	sess.source.SetActive(cameraID)
	return sess.rec.SwitchSource(ctx, cameraID)
}

// StartRecording begins archiving the active camera's feed.
func (s *Service) StartRecording(ctx context.Context, sessionID string) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}

	room, err := s.rooms.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if room.ActiveCameraID == nil {
		return ErrNoActiveCamera
	}

	return sess.rec.Start(ctx, domain.CameraParticipant(*room.ActiveCameraID))
}

// StopRecording ends the session's recording and returns the completed
// record. Returns nil when no recording is running.
func (s *Service) StopRecording(ctx context.Context, sessionID string) (*domain.Recording, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.rec.Stop(ctx)
}

// SetFallback toggles the fallback image shown to the public view. The
// recorder keeps taping the live camera feed; the toggle only lands on
// the recording timeline and the event bus.
func (s *Service) SetFallback(ctx context.Context, sessionID string, on bool, imageURL string) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}

	if err := sess.rec.RecordFallback(ctx, on, imageURL); err != nil {
		return err
	}
	s.publish(ctx, sessionID, pubsub.EventFallbackToggled, pubsub.FallbackToggledPayload{
		SessionID: sessionID,
		IsOn:      on,
		ImageURL:  imageURL,
	})
	return nil
}

// RequestViewer asks a camera for a dedicated viewer connection and
// returns the viewer id its offer will be addressed to.
func (s *Service) RequestViewer(ctx context.Context, sessionID string, slot int) (string, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return "", err
	}
	return sess.admin.RequestViewer(ctx, slot)
}

// Zoom forwards an informational zoom command to a camera.
func (s *Service) Zoom(ctx context.Context, sessionID string, slot int, level float64) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}
	return sess.admin.SendZoom(ctx, slot, level)
}

func (s *Service) get(sessionID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

func (s *Service) publish(ctx context.Context, sessionID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	event, err := pubsub.NewEvent(eventType, sessionID, payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("lifecycle event not built")
		return
	}
	if err := s.events.Publish(ctx, pubsub.BroadcastEventsChannel(sessionID), event); err != nil {
		s.log.Warn().Err(err).Msg("lifecycle event not published")
	}
}
