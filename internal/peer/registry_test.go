package peer

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records transport calls so negotiation logic can be tested
// without a network.
type fakeConn struct {
	mu             sync.Mutex
	remoteSet      bool
	applied        []webrtc.ICECandidateInit
	remoteDescSets int
	closed         int
	signalingState webrtc.SignalingState
	addICEErr      error
	onApply        func(webrtc.ICECandidateInit)
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
	if c.addICEErr != nil {
		c.mu.Unlock()
		return c.addICEErr
	}
	if !c.remoteSet {
		c.mu.Unlock()
		return errors.New("remote description not set")
	}
	c.applied = append(c.applied, candidate)
	hook := c.onApply
	c.mu.Unlock()

	if hook != nil {
		hook(candidate)
	}
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

func (c *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (c *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *fakeConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (c *fakeConn) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.applied...)
}

// fakeFactory hands out fakeConns and keeps them for inspection.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConn() (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestPeerQueuesCandidatesBeforeRemoteDescription(t *testing.T) {
	conn := &fakeConn{}
	p := NewPeer(conn)

	require.NoError(t, p.AddCandidate(candidate("a")))
	require.NoError(t, p.AddCandidate(candidate("b")))
	require.NoError(t, p.AddCandidate(candidate("c")))

	// Nothing reaches the transport until the remote description lands.
	assert.Empty(t, conn.appliedCandidates())

	require.NoError(t, p.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	}))

	applied := conn.appliedCandidates()
	require.Len(t, applied, 3)
	assert.Equal(t, "a", applied[0].Candidate)
	assert.Equal(t, "b", applied[1].Candidate)
	assert.Equal(t, "c", applied[2].Candidate)
}

func TestPeerAppliesCandidatesDirectlyAfterRemoteDescription(t *testing.T) {
	conn := &fakeConn{}
	p := NewPeer(conn)

	require.NoError(t, p.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	}))
	require.NoError(t, p.AddCandidate(candidate("late")))

	applied := conn.appliedCandidates()
	require.Len(t, applied, 1)
	assert.Equal(t, "late", applied[0].Candidate)
}

func TestPeerDrainsQueueExactlyOnce(t *testing.T) {
	conn := &fakeConn{}
	p := NewPeer(conn)

	require.NoError(t, p.AddCandidate(candidate("a")))
	require.NoError(t, p.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	}))
	require.Len(t, conn.appliedCandidates(), 1)

	// A second remote description does not replay the drained queue.
	require.NoError(t, p.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	}))
	assert.Len(t, conn.appliedCandidates(), 1)
}

func TestPeerOrdersCandidatesArrivingDuringDrain(t *testing.T) {
	conn := &fakeConn{}
	p := NewPeer(conn)

	require.NoError(t, p.AddCandidate(candidate("a")))
	require.NoError(t, p.AddCandidate(candidate("b")))

	// A candidate arriving while the queue flushes must wait its turn
	// behind the already queued ones.
	var once sync.Once
	conn.onApply = func(webrtc.ICECandidateInit) {
		once.Do(func() {
			require.NoError(t, p.AddCandidate(candidate("late")))
		})
	}

	require.NoError(t, p.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	}))

	applied := conn.appliedCandidates()
	require.Len(t, applied, 3)
	assert.Equal(t, "a", applied[0].Candidate)
	assert.Equal(t, "b", applied[1].Candidate)
	assert.Equal(t, "late", applied[2].Candidate)
}

func TestPeerAwaitingAnswer(t *testing.T) {
	conn := &fakeConn{}
	p := NewPeer(conn)
	assert.False(t, p.AwaitingAnswer())

	require.NoError(t, conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}))
	assert.True(t, p.AwaitingAnswer())

	require.NoError(t, p.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	}))
	assert.False(t, p.AwaitingAnswer())
}

func TestPeerCloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	p := NewPeer(conn)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, conn.closed)
}

func TestRegistryCreateReplacesAndCloses(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f)

	p1, err := r.Create("admin")
	require.NoError(t, err)
	first := f.last()

	p2, err := r.Create("admin")
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
	assert.Equal(t, 1, first.closed)

	got, err := r.Get("admin")
	require.NoError(t, err)
	assert.Same(t, p2, got)
}

func TestRegistryGetOrCreate(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f)

	_, err := r.Get("camera1")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	p1, err := r.GetOrCreate("camera1")
	require.NoError(t, err)
	p2, err := r.GetOrCreate("camera1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Len(t, f.conns, 1)
}

func TestRegistryRemoveAndCloseAll(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f)

	_, err := r.Create("camera1")
	require.NoError(t, err)
	_, err = r.Create("camera2")
	require.NoError(t, err)

	r.Remove("camera1")
	_, err = r.Get("camera1")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	r.CloseAll()
	_, err = r.Get("camera2")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	for _, c := range f.conns {
		assert.Equal(t, 1, c.closed)
	}
}
