package broadcast

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
	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	"github.com/pitchside/broadcast-service/pkg/storage"
)

type fakeConn struct {
	mu        sync.Mutex
	remoteSet bool
}

func (c *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteSet = true
	return nil
}

func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return errors.New("remote description not set")
	}
	return nil
}

func (c *fakeConn) SignalingState() webrtc.SignalingState { return webrtc.SignalingStateStable }

func (c *fakeConn) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (c *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (c *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *fakeConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (c *fakeConn) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (c *fakeConn) Close() error { return nil }

type fakeFactory struct{}

func (f *fakeFactory) NewConn() (peer.Conn, error) { return &fakeConn{}, nil }

type fixture struct {
	channel *signaling.MemoryChannel
	rooms   *roomstate.MemoryStore
	store   *recorder.MemoryStore
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	uploads := recorder.NewUploader(blobs, recorder.UploaderConfig{Workers: 1})
	uploads.Start()
	t.Cleanup(uploads.Stop)

	f := &fixture{
		channel: signaling.NewMemoryChannel(),
		rooms:   roomstate.NewMemoryStore(),
		store:   recorder.NewMemoryStore(),
	}
	f.service = NewService(ServiceConfig{
		Channel:        f.channel,
		Rooms:          f.rooms,
		PeerFactory:    &fakeFactory{},
		RecordingStore: f.store,
		Uploader:       uploads,
		SpoolDir:       t.TempDir(),
	})
	t.Cleanup(func() { f.service.Shutdown(context.Background()) })
	return f
}

func TestOpenTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Open(ctx, "s1"))
	assert.ErrorIs(t, f.service.Open(ctx, "s1"), ErrSessionActive)
}

func TestCloseWithoutOpenFails(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.service.Close(context.Background(), "s1"), ErrNoSession)
}

func TestOpenCreatesRoomAndCloseReleasesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Open(ctx, "s1"))

	room, err := f.rooms.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, room.IsLive)

	require.NoError(t, f.service.Close(ctx, "s1"))
	assert.ErrorIs(t, f.service.Close(ctx, "s1"), ErrNoSession)

	// The session can be reopened after a close.
	require.NoError(t, f.service.Open(ctx, "s1"))
}

func TestOperationsOnUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slot := 1
	assert.ErrorIs(t, f.service.SetActiveCamera(ctx, "missing", &slot), ErrNoSession)
	assert.ErrorIs(t, f.service.StartRecording(ctx, "missing"), ErrNoSession)
	assert.ErrorIs(t, f.service.SetFallback(ctx, "missing", true, ""), ErrNoSession)
	assert.ErrorIs(t, f.service.Zoom(ctx, "missing", 1, 2.0), ErrNoSession)

	_, err := f.service.StopRecording(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = f.service.RequestViewer(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStartRecordingRequiresActiveCamera(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Open(ctx, "s1"))
	assert.ErrorIs(t, f.service.StartRecording(ctx, "s1"), ErrNoActiveCamera)
}

func TestRecordingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Open(ctx, "s1"))

	slot := 1
	require.NoError(t, f.service.SetActiveCamera(ctx, "s1", &slot))

	room, err := f.rooms.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, room.IsLive)

	require.NoError(t, f.service.StartRecording(ctx, "s1"))
	assert.ErrorIs(t, f.service.StartRecording(ctx, "s1"), recorder.ErrAlreadyRecording)

	require.NoError(t, f.service.SetFallback(ctx, "s1", true, "https://img.test/break.png"))
	require.NoError(t, f.service.SetFallback(ctx, "s1", false, ""))

	rec, err := f.service.StopRecording(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordingStatusCompleted, rec.Status)

	// Stopping again while idle is a no-op.
	rec, err = f.service.StopRecording(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestOpenSessionAnswersCameraOffers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.service.Open(ctx, "s1"))

	sub, err := f.channel.Subscribe(ctx, "s1")
	require.NoError(t, err)

	offer, err := domain.NewSignalMessage(domain.MsgTypeOffer, "camera1", domain.ParticipantAdmin, "s1", &domain.OfferPayload{SDP: "v=0 offer"})
	require.NoError(t, err)
	require.NoError(t, f.channel.Append(ctx, offer))

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-sub:
			if msg.Type != domain.MsgTypeAnswer {
				continue
			}
			assert.Equal(t, domain.ParticipantAdmin, msg.From)
			assert.Equal(t, "camera1", msg.To)
			return
		case <-deadline:
			t.Fatal("timed out waiting for answer")
		}
	}
}

func TestRequestViewerThroughService(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.service.Open(ctx, "s1"))

	viewerID, err := f.service.RequestViewer(ctx, "s1", 2)
	require.NoError(t, err)
	assert.True(t, domain.IsViewer(viewerID))
}

func TestTrackSourceFiltersInactiveCameras(t *testing.T) {
	src := newTrackSource()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Nothing is active yet; a read must block until cancelled.
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	src.SetActive("camera1")
	src.data <- []byte("frame")

	pkt, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), pkt)
}
