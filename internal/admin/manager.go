package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pitchside/broadcast-service/internal/audit"
	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
	"github.com/pitchside/broadcast-service/pkg/pubsub"
)

// TrackHandler receives remote tracks as cameras connect, tagged with the
// sending participant's id.
type TrackHandler func(participantID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Manager drives the admin participant: it answers camera offers, owns
// one peer connection per camera, and controls which camera feeds the
// public broadcast.
type Manager struct {
	sessionID string

	channel signaling.Channel
	rooms   roomstate.Store
	peers   *peer.Registry
	events  pubsub.Publisher

	log zerolog.Logger
}

// Config holds the dependencies for an admin manager.
type Config struct {
	SessionID string

	Channel     signaling.Channel
	Rooms       roomstate.Store
	PeerFactory peer.Factory

	// Events is optional; when set, camera switches and live transitions
	// are published for other services.
	Events pubsub.Publisher
}

// New creates an admin manager for a session.
func New(cfg Config) *Manager {
	return &Manager{
		sessionID: cfg.SessionID,
		channel:   cfg.Channel,
		rooms:     cfg.Rooms,
		peers:     peer.NewRegistry(cfg.PeerFactory),
		events:    cfg.Events,
		log: pkglog.L().With().
			Str(pkglog.FieldSessionID, cfg.SessionID).
			Str(pkglog.FieldParticipant, domain.ParticipantAdmin).
			Logger(),
	}
}

// Start ensures the session's room exists.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.rooms.Create(ctx, m.sessionID); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	audit.Log(ctx, audit.ActionBroadcastStart, m.sessionID, "broadcast session opened")
	return nil
}

// Listen consumes the session channel and handles every message addressed
// to the admin. Incoming tracks are delivered to onTrack. Blocks until
// ctx is cancelled.
func (m *Manager) Listen(ctx context.Context, onTrack TrackHandler) error {
	msgs, err := m.channel.Subscribe(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.To != domain.ParticipantAdmin {
				continue
			}
			m.handle(ctx, msg, onTrack)
			if err := m.channel.Delete(ctx, m.sessionID, msg.ID); err != nil {
				m.log.Warn().Err(err).Str("message_id", msg.ID).Msg("consumed message not deleted")
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, msg *domain.SignalMessage, onTrack TrackHandler) {
	payload, err := msg.DecodePayload()
	if err != nil {
		m.log.Warn().Err(err).Msg("undecodable signal message ignored")
		return
	}

	switch p := payload.(type) {
	case *domain.OfferPayload:
		m.handleOffer(ctx, msg.From, p, onTrack)
	case *domain.CandidatePayload:
		m.handleCandidate(msg.From, p)
	default:
		m.log.Debug().Str("type", msg.Type).Msg("signal message type not handled by admin")
	}
}

// handleOffer answers a camera's offer. The peer may already exist if a
// candidate from the camera raced ahead of the offer; in that case the
// queued candidates drain when the remote description is applied here.
func (m *Manager) handleOffer(ctx context.Context, from string, p *domain.OfferPayload, onTrack TrackHandler) {
	l := m.log.With().Str("from", from).Logger()

	pr, err := m.peers.GetOrCreate(from)
	if err != nil {
		l.Error().Err(err).Msg("peer connection for offer failed")
		return
	}

	pr.Conn().OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		l.Info().Str("codec", track.Codec().MimeType).Str("kind", track.Kind().String()).Msg("track received")
		if onTrack != nil {
			onTrack(from, track, receiver)
		}
	})
	pr.Conn().OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.sendCandidate(from, c)
	})
	pr.Conn().OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleTransportState(from, state)
	})

	if err := pr.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}); err != nil {
		l.Error().Err(err).Msg("apply offer failed")
		m.peers.Remove(from)
		return
	}

	answer, err := pr.Conn().CreateAnswer(nil)
	if err != nil {
		l.Error().Err(err).Msg("create answer failed")
		m.peers.Remove(from)
		return
	}
	if err := pr.Conn().SetLocalDescription(answer); err != nil {
		l.Error().Err(err).Msg("set local description failed")
		m.peers.Remove(from)
		return
	}

	reply, err := domain.NewSignalMessage(domain.MsgTypeAnswer, domain.ParticipantAdmin, from, m.sessionID, &domain.AnswerPayload{SDP: answer.SDP})
	if err != nil {
		l.Error().Err(err).Msg("answer message failed")
		return
	}
	if err := m.channel.Append(ctx, reply); err != nil {
		l.Error().Err(err).Msg("append answer failed")
		return
	}
	l.Info().Msg("answer sent")
}

func (m *Manager) handleCandidate(from string, p *domain.CandidatePayload) {
	pr, err := m.peers.GetOrCreate(from)
	if err != nil {
		m.log.Error().Err(err).Str("from", from).Msg("peer for candidate unavailable")
		return
	}
	if err := pr.AddCandidate(webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}); err != nil {
		m.log.Warn().Err(err).Str("from", from).Msg("ice candidate rejected")
	}
}

func (m *Manager) sendCandidate(to string, c *webrtc.ICECandidate) {
	init := c.ToJSON()
	msg, err := domain.NewSignalMessage(domain.MsgTypeICECandidate, domain.ParticipantAdmin, to, m.sessionID, &domain.CandidatePayload{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
	if err != nil {
		m.log.Error().Err(err).Msg("candidate message failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.channel.Append(ctx, msg); err != nil {
		m.log.Warn().Err(err).Str("to", to).Msg("append candidate failed")
	}
}

// handleTransportState clears a failed camera's connection. The room
// status itself is camera-owned; the admin only drops its own peer.
func (m *Manager) handleTransportState(from string, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.log.Warn().Str("from", from).Str("state", state.String()).Msg("camera transport lost")
		m.peers.Remove(from)
	}
}

// SetActiveCamera selects which camera feeds the public broadcast, or
// clears the selection with nil. The switch is pure room state; existing
// peer connections are untouched, so switching is glitch-free for the
// cameras.
func (m *Manager) SetActiveCamera(ctx context.Context, slot *int) error {
	room, err := m.rooms.Get(ctx, m.sessionID)
	if err != nil {
		return err
	}
	var previous *int
	if room.ActiveCameraID != nil {
		id := *room.ActiveCameraID
		previous = &id
	}

	if err := m.rooms.SetActiveCamera(ctx, m.sessionID, slot); err != nil {
		return err
	}

	m.publishSwitch(ctx, previous, slot)
	if slot == nil {
		audit.Log(ctx, audit.ActionCameraSwitch, m.sessionID, "broadcast cleared, no active camera")
		m.log.Info().Msg("broadcast cleared, no active camera")
	} else {
		audit.LogWithDetail(ctx, audit.ActionCameraSwitch, m.sessionID, domain.CameraParticipant(*slot), "active camera switched")
		m.log.Info().Int(pkglog.FieldCameraSlot, *slot).Msg("active camera switched")
	}
	return nil
}

// SendZoom forwards an informational zoom command to a camera.
func (m *Manager) SendZoom(ctx context.Context, slot int, level float64) error {
	msg, err := domain.NewSignalMessage(domain.MsgTypeZoomCommand, domain.ParticipantAdmin, domain.CameraParticipant(slot), m.sessionID, &domain.ZoomCommandPayload{Level: level})
	if err != nil {
		return err
	}
	return m.channel.Append(ctx, msg)
}

// RequestViewer asks a camera for a dedicated viewer connection and
// returns the viewer id the camera will address its offer to.
func (m *Manager) RequestViewer(ctx context.Context, slot int) (string, error) {
	viewerID := domain.NewViewerID()
	msg, err := domain.NewSignalMessage(domain.MsgTypeViewerRequest, domain.ParticipantAdmin, domain.CameraParticipant(slot), m.sessionID, &domain.ViewerRequestPayload{ViewerID: viewerID})
	if err != nil {
		return "", err
	}
	if err := m.channel.Append(ctx, msg); err != nil {
		return "", fmt.Errorf("append viewer request: %w", err)
	}
	audit.LogWithDetail(ctx, audit.ActionViewerRequested, m.sessionID, viewerID, "viewer connection requested")
	return viewerID, nil
}

// SubscribeRoom streams room snapshots to the caller as the roster and
// broadcast state change.
func (m *Manager) SubscribeRoom(ctx context.Context) (<-chan *domain.Room, error) {
	return m.rooms.Watch(ctx, m.sessionID)
}

// Close releases all camera peer connections.
func (m *Manager) Close() {
	m.peers.CloseAll()
	audit.Log(context.Background(), audit.ActionBroadcastStop, m.sessionID, "broadcast session closed")
}

func (m *Manager) publishSwitch(ctx context.Context, from, to *int) {
	if m.events == nil {
		return
	}

	payload := pubsub.CameraSwitchedPayload{SessionID: m.sessionID}
	if from != nil {
		payload.FromCameraID = domain.CameraParticipant(*from)
	}
	if to != nil {
		payload.ToCameraID = domain.CameraParticipant(*to)
	}

	event, err := pubsub.NewEvent(pubsub.EventCameraSwitched, m.sessionID, payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("camera switch event not built")
		return
	}
	if err := m.events.Publish(ctx, pubsub.BroadcastEventsChannel(m.sessionID), event); err != nil {
		m.log.Warn().Err(err).Msg("camera switch event not published")
	}
}
