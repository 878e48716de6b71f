package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
)

// fakeConn is a transport stand-in recording negotiation calls.
type fakeConn struct {
	mu             sync.Mutex
	remoteSet      bool
	remoteDescSets int
	applied        []webrtc.ICECandidateInit
	tracks         int
	signalingState webrtc.SignalingState
	closed         bool
}

func (c *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if desc.Type == webrtc.SDPTypeOffer {
		c.signalingState = webrtc.SignalingStateHaveLocalOffer
	} else {
		c.signalingState = webrtc.SignalingStateStable
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteSet = true
	c.remoteDescSets++
	c.signalingState = webrtc.SignalingStateStable
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return errors.New("remote description not set")
	}
	c.applied = append(c.applied, candidate)
	return nil
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signalingState
}

func (c *fakeConn) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (c *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil, nil
}

func (c *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *fakeConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (c *fakeConn) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.applied...)
}

func (c *fakeConn) remoteSets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDescSets
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConn() (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.conns) {
		return nil
	}
	return f.conns[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fixture struct {
	channel *signaling.MemoryChannel
	rooms   *roomstate.MemoryStore
	factory *fakeFactory
	mgr     *Manager
}

func newFixture(t *testing.T, cfg func(*Config)) *fixture {
	t.Helper()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam")
	require.NoError(t, err)

	f := &fixture{
		channel: signaling.NewMemoryChannel(),
		rooms:   roomstate.NewMemoryStore(),
		factory: &fakeFactory{},
	}
	c := Config{
		SessionID:   "s1",
		Slot:        1,
		DeviceName:  "test-cam",
		Channel:     f.channel,
		Rooms:       f.rooms,
		PeerFactory: f.factory,
		Media:       &StaticSource{Tracks: []webrtc.TrackLocal{track}},
	}
	if cfg != nil {
		cfg(&c)
	}
	f.mgr = New(c)
	return f
}

func (f *fixture) start(t *testing.T, ctx context.Context) {
	t.Helper()
	require.NoError(t, f.mgr.Register(ctx))
	require.NoError(t, f.mgr.AcquireMedia(ctx))
	require.NoError(t, f.mgr.CreateOffer(ctx))
	go f.mgr.Listen(ctx)
}

func (f *fixture) send(t *testing.T, msgType string, payload any) {
	t.Helper()
	msg, err := domain.NewSignalMessage(msgType, domain.ParticipantAdmin, "camera1", "s1", payload)
	require.NoError(t, err)
	require.NoError(t, f.channel.Append(context.Background(), msg))
}

func (f *fixture) status(t *testing.T) domain.CameraStatus {
	t.Helper()
	room, err := f.rooms.Get(context.Background(), "s1")
	require.NoError(t, err)
	cam, ok := room.Cameras[1]
	if !ok {
		return ""
	}
	return cam.Status
}

func TestCreateOfferRequiresRegistration(t *testing.T) {
	f := newFixture(t, nil)
	err := f.mgr.CreateOffer(context.Background())
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterSetsConnecting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.mgr.Register(ctx))
	assert.Equal(t, domain.CameraConnecting, f.status(t))
}

func TestCandidatesBeforeAnswerAreQueuedThenDrained(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.start(t, ctx)

	// Three candidates arrive ahead of the answer.
	for _, c := range []string{"a", "b", "c"} {
		f.send(t, domain.MsgTypeICECandidate, &domain.CandidatePayload{Candidate: c})
	}

	// The camera consumes them; only its own offer stays in the channel.
	require.Eventually(t, func() bool {
		return f.channel.Len("s1") == 1
	}, time.Second, 10*time.Millisecond)

	conn := f.factory.conn(0)
	require.NotNil(t, conn)
	assert.Empty(t, conn.appliedCandidates(), "candidates must wait for the remote description")

	f.send(t, domain.MsgTypeAnswer, &domain.AnswerPayload{SDP: "v=0 answer"})

	require.Eventually(t, func() bool {
		return len(conn.appliedCandidates()) == 3
	}, time.Second, 10*time.Millisecond)

	applied := conn.appliedCandidates()
	assert.Equal(t, "a", applied[0].Candidate)
	assert.Equal(t, "b", applied[1].Candidate)
	assert.Equal(t, "c", applied[2].Candidate)

	require.Eventually(t, func() bool {
		return f.status(t) == domain.CameraConnected
	}, time.Second, 10*time.Millisecond)
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.start(t, ctx)

	f.send(t, domain.MsgTypeAnswer, &domain.AnswerPayload{SDP: "v=0 answer"})

	conn := f.factory.conn(0)
	require.NotNil(t, conn)
	require.Eventually(t, func() bool {
		return conn.remoteSets() == 1
	}, time.Second, 10*time.Millisecond)

	f.send(t, domain.MsgTypeAnswer, &domain.AnswerPayload{SDP: "v=0 duplicate"})

	// The duplicate is consumed but never applied.
	require.Eventually(t, func() bool {
		return f.channel.Len("s1") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, conn.remoteSets())
}

func TestNegotiationTimeoutDisconnects(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.NegotiationTimeout = 50 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.start(t, ctx)

	require.Eventually(t, func() bool {
		return f.status(t) == domain.CameraDisconnected
	}, time.Second, 10*time.Millisecond)
}

func TestViewerRequestFansOutWithoutDisturbingAdminPeer(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.start(t, ctx)

	f.send(t, domain.MsgTypeAnswer, &domain.AnswerPayload{SDP: "v=0 answer"})

	adminConn := f.factory.conn(0)
	require.NotNil(t, adminConn)
	require.Eventually(t, func() bool {
		return adminConn.remoteSets() == 1
	}, time.Second, 10*time.Millisecond)

	sub, err := f.channel.Subscribe(ctx, "s1")
	require.NoError(t, err)

	f.send(t, domain.MsgTypeViewerRequest, &domain.ViewerRequestPayload{ViewerID: "viewer-x"})

	// The camera opens a second connection and offers to the viewer.
	var viewerOffer *domain.SignalMessage
	deadline := time.After(time.Second)
	for viewerOffer == nil {
		select {
		case msg := <-sub:
			if msg.Type == domain.MsgTypeOffer && msg.To == "viewer-x" {
				viewerOffer = msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for viewer offer")
		}
	}
	assert.Equal(t, "camera1", viewerOffer.From)

	require.Equal(t, 2, f.factory.count())
	viewerConn := f.factory.conn(1)
	assert.Equal(t, 1, viewerConn.tracks, "viewer gets the same published track")

	// The admin connection saw no extra negotiation.
	assert.Equal(t, 1, adminConn.remoteSets())
	assert.False(t, adminConn.closed)
}

func TestZoomCommandInvokesCallback(t *testing.T) {
	levels := make(chan float64, 1)
	f := newFixture(t, func(c *Config) {
		c.OnZoom = func(level float64) { levels <- level }
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.start(t, ctx)

	f.send(t, domain.MsgTypeZoomCommand, &domain.ZoomCommandPayload{Level: 3.5})

	select {
	case level := <-levels:
		assert.Equal(t, 3.5, level)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for zoom callback")
	}
}

func TestAcquireMediaFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Media = &failingSource{}
	})
	err := f.mgr.AcquireMedia(context.Background())
	assert.ErrorIs(t, err, ErrMediaAcquisition)
}

type failingSource struct{}

func (s *failingSource) Open(context.Context) ([]webrtc.TrackLocal, error) {
	return nil, errors.New("device busy")
}

func (s *failingSource) Close() error { return nil }

func TestDestroyReleasesSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.mgr.Register(ctx))
	require.NoError(t, f.mgr.AcquireMedia(ctx))

	f.mgr.Destroy(ctx)
	f.mgr.Destroy(ctx) // idempotent

	room, err := f.rooms.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, room.Cameras, 1)
}
