package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/pitchside/broadcast-service/internal/audit"
	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

var (
	// ErrNotRegistered is returned when negotiation starts before Register.
	ErrNotRegistered = errors.New("camera not registered")
	// ErrMediaAcquisition wraps failures to open the capture device.
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrNoMedia is returned when an offer is created before media is
	// acquired.
	ErrNoMedia = errors.New("no media tracks acquired")
)

// ZoomHandler receives informational zoom commands addressed to the
// camera. The service does not act on them itself.
type ZoomHandler func(level float64)

// Manager drives one camera participant: registration in the room,
// media acquisition, offer/answer negotiation with the admin, and direct
// fan-out connections to viewers.
type Manager struct {
	sessionID     string
	slot          int
	participantID string
	deviceName    string

	channel signaling.Channel
	rooms   roomstate.Store
	peers   *peer.Registry
	media   MediaSource

	negotiationTimeout time.Duration
	onZoom             ZoomHandler
	log                zerolog.Logger

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	timer      *time.Timer
	registered bool

	destroyOnce sync.Once
}

// Config holds the dependencies and settings for a camera manager.
type Config struct {
	SessionID  string
	Slot       int
	DeviceName string

	Channel     signaling.Channel
	Rooms       roomstate.Store
	PeerFactory peer.Factory
	Media       MediaSource

	// NegotiationTimeout bounds the wait for an answer after an offer is
	// sent. Zero selects the default of 30 seconds.
	NegotiationTimeout time.Duration

	OnZoom ZoomHandler
}

// New creates a camera manager for one slot of a session.
func New(cfg Config) *Manager {
	timeout := cfg.NegotiationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	participantID := domain.CameraParticipant(cfg.Slot)

	return &Manager{
		sessionID:          cfg.SessionID,
		slot:               cfg.Slot,
		participantID:      participantID,
		deviceName:         cfg.DeviceName,
		channel:            cfg.Channel,
		rooms:              cfg.Rooms,
		peers:              peer.NewRegistry(cfg.PeerFactory),
		media:              cfg.Media,
		negotiationTimeout: timeout,
		onZoom:             cfg.OnZoom,
		log: pkglog.L().With().
			Str(pkglog.FieldSessionID, cfg.SessionID).
			Str(pkglog.FieldParticipant, participantID).
			Logger(),
	}
}

// ParticipantID returns the camera's id on the signaling channel.
func (m *Manager) ParticipantID() string {
	return m.participantID
}

// Register claims the camera's slot in the room with status connecting.
// Re-registering after a disconnect resets the entry.
func (m *Manager) Register(ctx context.Context) error {
	if _, err := m.rooms.Create(ctx, m.sessionID); err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	conn := &domain.CameraConnection{
		Slot:        m.slot,
		SessionID:   m.sessionID,
		Status:      domain.CameraConnecting,
		DeviceName:  m.deviceName,
		ConnectedAt: time.Now().UTC(),
	}
	if err := m.rooms.SetCamera(ctx, m.sessionID, m.slot, conn); err != nil {
		return fmt.Errorf("register camera slot: %w", err)
	}

	m.mu.Lock()
	m.registered = true
	m.mu.Unlock()

	audit.LogWithDetail(ctx, audit.ActionCameraRegister, m.sessionID, m.participantID, "camera registered")
	m.log.Info().Msg("camera registered")
	return nil
}

// AcquireMedia opens the capture device and holds its tracks for
// negotiation.
func (m *Manager) AcquireMedia(ctx context.Context) error {
	tracks, err := m.media.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("%w: source opened with no tracks", ErrMediaAcquisition)
	}

	m.mu.Lock()
	m.tracks = tracks
	m.mu.Unlock()
	return nil
}

// CreateOffer builds the peer connection toward the admin, publishes the
// local tracks on it, and appends the offer to the signaling channel. The
// camera stays in connecting until the answer is applied; if no answer
// arrives within the negotiation timeout the camera is marked
// disconnected and its resources released.
func (m *Manager) CreateOffer(ctx context.Context) error {
	m.mu.Lock()
	if !m.registered {
		m.mu.Unlock()
		return ErrNotRegistered
	}
	tracks := m.tracks
	m.mu.Unlock()

	if len(tracks) == 0 {
		return ErrNoMedia
	}

	p, err := m.peers.Create(domain.ParticipantAdmin)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	p.Conn().OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.sendCandidate(domain.ParticipantAdmin, c)
	})
	p.Conn().OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleTransportState(state)
	})

	for _, track := range tracks {
		if _, err := p.Conn().AddTrack(track); err != nil {
			return fmt.Errorf("add track: %w", err)
		}
	}

	offer, err := p.Conn().CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.Conn().SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	msg, err := domain.NewSignalMessage(domain.MsgTypeOffer, m.participantID, domain.ParticipantAdmin, m.sessionID, &domain.OfferPayload{SDP: offer.SDP})
	if err != nil {
		return err
	}
	if err := m.channel.Append(ctx, msg); err != nil {
		return fmt.Errorf("append offer: %w", err)
	}

	m.armNegotiationTimer()
	m.log.Info().Msg("offer sent")
	return nil
}

// Listen consumes the session channel and handles every message addressed
// to this camera. It blocks until ctx is cancelled.
func (m *Manager) Listen(ctx context.Context) error {
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
			if msg.To != m.participantID {
				continue
			}
			m.handle(ctx, msg)
			if err := m.channel.Delete(ctx, m.sessionID, msg.ID); err != nil {
				m.log.Warn().Err(err).Str("message_id", msg.ID).Msg("consumed message not deleted")
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, msg *domain.SignalMessage) {
	payload, err := msg.DecodePayload()
	if err != nil {
		m.log.Warn().Err(err).Msg("undecodable signal message ignored")
		return
	}

	switch p := payload.(type) {
	case *domain.AnswerPayload:
		m.handleAnswer(ctx, msg.From, p)
	case *domain.CandidatePayload:
		m.handleCandidate(msg.From, p)
	case *domain.ViewerRequestPayload:
		go m.serveViewer(ctx, p.ViewerID)
	case *domain.ZoomCommandPayload:
		m.log.Info().Float64("level", p.Level).Msg("zoom command received")
		if m.onZoom != nil {
			m.onZoom(p.Level)
		}
	default:
		m.log.Debug().Str("type", msg.Type).Msg("signal message type not handled by camera")
	}
}

// handleAnswer applies an answer from the admin or a viewer. Late or
// duplicate answers arrive when the peer is no longer awaiting one and
// are dropped without touching connection state. Only the admin answer
// promotes the camera to connected.
func (m *Manager) handleAnswer(ctx context.Context, from string, p *domain.AnswerPayload) {
	pr, err := m.peers.Get(from)
	if err != nil {
		m.log.Debug().Str("from", from).Msg("answer without pending offer ignored")
		return
	}
	if !pr.AwaitingAnswer() {
		m.log.Debug().Str("from", from).Msg("duplicate or stale answer ignored")
		return
	}

	if err := pr.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.SDP,
	}); err != nil {
		m.log.Error().Err(err).Str("from", from).Msg("apply answer failed")
		if from == domain.ParticipantAdmin {
			m.fail(ctx)
		} else {
			m.peers.Remove(from)
		}
		return
	}

	if from != domain.ParticipantAdmin {
		m.log.Info().Str("viewer_id", from).Msg("viewer answer applied")
		return
	}

	m.disarmNegotiationTimer()
	if err := m.rooms.SetCameraStatus(ctx, m.sessionID, m.slot, domain.CameraConnected); err != nil {
		m.log.Warn().Err(err).Msg("status update to connected failed")
	}
	m.log.Info().Msg("answer applied, negotiation complete")
}

func (m *Manager) handleCandidate(from string, p *domain.CandidatePayload) {
	pr, err := m.peers.GetOrCreate(from)
	if err != nil {
		m.log.Error().Err(err).Msg("peer for candidate unavailable")
		return
	}
	if err := pr.AddCandidate(webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}); err != nil {
		m.log.Warn().Err(err).Msg("ice candidate rejected")
	}
}

// serveViewer negotiates a dedicated peer connection for one viewer and
// publishes the same tracks on it. Each viewer costs one connection; the
// camera keeps streaming to the admin and other viewers regardless of
// this viewer's fate.
func (m *Manager) serveViewer(ctx context.Context, viewerID string) {
	l := m.log.With().Str("viewer_id", viewerID).Logger()

	m.mu.Lock()
	tracks := m.tracks
	m.mu.Unlock()
	if len(tracks) == 0 {
		l.Warn().Msg("viewer request before media acquisition ignored")
		return
	}

	p, err := m.peers.Create(viewerID)
	if err != nil {
		l.Error().Err(err).Msg("viewer peer connection failed")
		return
	}

	p.Conn().OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.sendCandidate(viewerID, c)
	})
	p.Conn().OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.peers.Remove(viewerID)
			l.Info().Str("state", state.String()).Msg("viewer connection ended")
		}
	})

	for _, track := range tracks {
		if _, err := p.Conn().AddTrack(track); err != nil {
			l.Error().Err(err).Msg("add track for viewer failed")
			m.peers.Remove(viewerID)
			return
		}
	}

	offer, err := p.Conn().CreateOffer(nil)
	if err != nil {
		l.Error().Err(err).Msg("viewer offer failed")
		m.peers.Remove(viewerID)
		return
	}
	if err := p.Conn().SetLocalDescription(offer); err != nil {
		l.Error().Err(err).Msg("viewer local description failed")
		m.peers.Remove(viewerID)
		return
	}

	msg, err := domain.NewSignalMessage(domain.MsgTypeOffer, m.participantID, viewerID, m.sessionID, &domain.OfferPayload{SDP: offer.SDP})
	if err != nil {
		l.Error().Err(err).Msg("viewer offer message failed")
		return
	}
	if err := m.channel.Append(ctx, msg); err != nil {
		l.Error().Err(err).Msg("append viewer offer failed")
		return
	}
	l.Info().Msg("viewer offer sent")
}

func (m *Manager) sendCandidate(to string, c *webrtc.ICECandidate) {
	init := c.ToJSON()
	msg, err := domain.NewSignalMessage(domain.MsgTypeICECandidate, m.participantID, to, m.sessionID, &domain.CandidatePayload{
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
		m.log.Warn().Err(err).Msg("append candidate failed")
	}
}

// handleTransportState maps transport state onto the camera's room
// status: an established transport means streaming, a failed one is
// terminal.
func (m *Manager) handleTransportState(state webrtc.PeerConnectionState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if err := m.rooms.SetCameraStatus(ctx, m.sessionID, m.slot, domain.CameraStreaming); err != nil {
			m.log.Warn().Err(err).Msg("status update to streaming failed")
		}
		m.log.Info().Msg("transport connected, streaming")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.log.Warn().Str("state", state.String()).Msg("transport lost")
		m.fail(ctx)
	}
}

func (m *Manager) armNegotiationTimer() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.negotiationTimeout, func() {
		m.log.Warn().Dur("timeout", m.negotiationTimeout).Msg("negotiation timed out")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.fail(ctx)
	})
	m.mu.Unlock()
}

func (m *Manager) disarmNegotiationTimer() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

// fail marks the camera disconnected and releases its connections.
// Recovery is a fresh Register/AcquireMedia/CreateOffer cycle.
func (m *Manager) fail(ctx context.Context) {
	m.disarmNegotiationTimer()
	m.peers.CloseAll()
	if err := m.rooms.SetCameraStatus(ctx, m.sessionID, m.slot, domain.CameraDisconnected); err != nil {
		m.log.Warn().Err(err).Msg("status update to disconnected failed")
	}
}

// Destroy tears the camera down: closes all peers, releases the media
// source, and removes the slot from the room. Idempotent.
func (m *Manager) Destroy(ctx context.Context) {
	m.destroyOnce.Do(func() {
		m.disarmNegotiationTimer()
		m.peers.CloseAll()
		if err := m.media.Close(); err != nil {
			m.log.Warn().Err(err).Msg("media source close failed")
		}
		if err := m.rooms.SetCamera(ctx, m.sessionID, m.slot, nil); err != nil {
			m.log.Warn().Err(err).Msg("slot release failed")
		}
		audit.LogWithDetail(ctx, audit.ActionCameraTeardown, m.sessionID, m.participantID, "camera destroyed")
		m.log.Info().Msg("camera destroyed")
	})
}
