package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrPeerNotFound is returned when an operation targets an unknown peer.
var ErrPeerNotFound = errors.New("peer not found")

// Peer wraps a transport connection with the negotiation state signaling
// needs: whether the remote description has been applied, and the ICE
// candidates that arrived before it was.
type Peer struct {
	conn Conn

	mu            sync.Mutex
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	closed        bool
}

// NewPeer wraps an established transport connection.
func NewPeer(conn Conn) *Peer {
	return &Peer{conn: conn}
}

// Conn exposes the underlying transport connection for track wiring.
func (p *Peer) Conn() Conn {
	return p.conn
}

// AddCandidate applies a remote ICE candidate, or queues it if the remote
// description has not been applied yet. Applying a candidate before the
// remote description would be rejected by the transport, so arrival order
// is preserved in the queue instead.
func (p *Peer) AddCandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteDescSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.conn.AddICECandidate(candidate)
}

// SetRemoteDescription applies the remote description and drains the
// queued candidates in arrival order. Candidates arriving while the
// drain runs keep queueing and are flushed by a later pass; only once
// the queue is empty do new candidates apply directly, so arrival order
// holds and each candidate is applied exactly once.
func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return err
	}

	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.remoteDescSet = true
			p.mu.Unlock()
			return nil
		}
		queued := p.pending
		p.pending = nil
		p.mu.Unlock()

		for _, candidate := range queued {
			if err := p.conn.AddICECandidate(candidate); err != nil {
				return err
			}
		}
	}
}

// AwaitingAnswer reports whether the peer has sent an offer and not yet
// applied an answer. Answers arriving outside this state are duplicates
// or stale and must be ignored.
func (p *Peer) AwaitingAnswer() bool {
	return p.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer
}

// Close releases the transport connection. Closing twice is a no-op.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.conn.Close()
}

// Registry tracks the peers of one participant, keyed by the remote
// participant's id.
type Registry struct {
	factory Factory

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewRegistry creates a registry that builds connections with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		peers:   make(map[string]*Peer),
	}
}

// Create builds a new peer for the remote participant, replacing and
// closing any previous one.
func (r *Registry) Create(remoteID string) (*Peer, error) {
	conn, err := r.factory.NewConn()
	if err != nil {
		return nil, err
	}
	p := NewPeer(conn)

	r.mu.Lock()
	old := r.peers[remoteID]
	r.peers[remoteID] = p
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return p, nil
}

// Get returns the peer for the remote participant.
func (r *Registry) Get(remoteID string) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[remoteID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

// GetOrCreate returns the existing peer or builds one. Used when a remote
// candidate arrives before the offer that will create the connection.
func (r *Registry) GetOrCreate(remoteID string) (*Peer, error) {
	r.mu.Lock()
	if p, ok := r.peers[remoteID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	return r.Create(remoteID)
}

// Remove closes and forgets the peer for the remote participant.
func (r *Registry) Remove(remoteID string) {
	r.mu.Lock()
	p := r.peers[remoteID]
	delete(r.peers, remoteID)
	r.mu.Unlock()

	if p != nil {
		p.Close()
	}
}

// CloseAll closes every peer and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
