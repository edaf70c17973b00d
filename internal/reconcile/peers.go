package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Plane distinguishes the two independent media meshes. A client may be in
// one without the other; peer connections are keyed by (peer, plane).
type Plane string

const (
	PlaneVoice Plane = "voice"
	PlaneVideo Plane = "video"
)

// PeerState tracks one peer connection's signaling progress
type PeerState int

const (
	PeerNone PeerState = iota
	PeerOfferSent
	PeerAnswerReceived
	PeerICEExchanging
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNone:
		return "no-connection"
	case PeerOfferSent:
		return "offer-sent"
	case PeerAnswerReceived:
		return "answer-received"
	case PeerICEExchanging:
		return "ice-exchanging"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Track is a stoppable media track handle
type Track interface {
	Stop()
}

// Capture owns the local microphone or camera acquisition. Release is
// idempotent and must run on every exit path: explicit toggle-off and
// connection teardown alike.
type Capture struct {
	once   sync.Once
	tracks []Track
}

// NewCapture wraps acquired tracks
func NewCapture(tracks ...Track) *Capture {
	return &Capture{tracks: tracks}
}

// Release stops every underlying track exactly once
func (c *Capture) Release() {
	c.once.Do(func() {
		for _, t := range c.tracks {
			t.Stop()
		}
	})
}

type peerKey struct {
	id    string
	plane Plane
}

// SignalSender forwards an opaque signaling payload to one peer through
// the board channel
type SignalSender func(plane Plane, targetID string, signal json.RawMessage)

// PeerRegistry tracks the state machine of every peer connection across
// both planes. The relay itself is stateless; this state lives only at the
// endpoints, driven by local WebRTC engine callbacks.
type PeerRegistry struct {
	mu       sync.Mutex
	peers    map[peerKey]PeerState
	captures map[Plane]*Capture
	send     SignalSender
}

// NewPeerRegistry creates a registry emitting signals through send
func NewPeerRegistry(send SignalSender) *PeerRegistry {
	return &PeerRegistry{
		peers:    make(map[peerKey]PeerState),
		captures: make(map[Plane]*Capture),
		send:     send,
	}
}

// SetCapture attaches the local media capture for a plane, releasing any
// prior one
func (r *PeerRegistry) SetCapture(plane Plane, c *Capture) {
	r.mu.Lock()
	prev := r.captures[plane]
	r.captures[plane] = c
	r.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

// State returns the current state for a peer and plane
func (r *PeerRegistry) State(peerID string, plane Plane) PeerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[peerKey{peerID, plane}]
}

// SendOffer records an outgoing offer and forwards it. Only valid from
// no-connection or closed.
func (r *PeerRegistry) SendOffer(peerID string, plane Plane, sdp json.RawMessage) error {
	r.mu.Lock()
	key := peerKey{peerID, plane}
	state := r.peers[key]
	if state != PeerNone && state != PeerClosed {
		r.mu.Unlock()
		return fmt.Errorf("cannot offer to %s/%s in state %s", peerID, plane, state)
	}
	r.peers[key] = PeerOfferSent
	r.mu.Unlock()

	r.send(plane, peerID, sdp)
	return nil
}

// AnswerReceived records the remote answer
func (r *PeerRegistry) AnswerReceived(peerID string, plane Plane) error {
	return r.transition(peerID, plane, PeerAnswerReceived, PeerOfferSent)
}

// SendICECandidate forwards a locally gathered candidate and moves the
// pair into ice-exchanging
func (r *PeerRegistry) SendICECandidate(peerID string, plane Plane, candidate json.RawMessage) error {
	if err := r.transition(peerID, plane, PeerICEExchanging,
		PeerOfferSent, PeerAnswerReceived, PeerICEExchanging); err != nil {
		return err
	}
	r.send(plane, peerID, candidate)
	return nil
}

// RemoteICECandidate records a candidate arriving from the peer
func (r *PeerRegistry) RemoteICECandidate(peerID string, plane Plane) error {
	return r.transition(peerID, plane, PeerICEExchanging,
		PeerOfferSent, PeerAnswerReceived, PeerICEExchanging)
}

// Connected marks the pair established (remote track arrived)
func (r *PeerRegistry) Connected(peerID string, plane Plane) error {
	return r.transition(peerID, plane, PeerConnected,
		PeerAnswerReceived, PeerICEExchanging)
}

// ClosePeer tears one peer connection down on one plane. Closing an
// unknown pair is a no-op; teardown must be safe against races with
// membership updates.
func (r *PeerRegistry) ClosePeer(peerID string, plane Plane) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(peerKey{peerID, plane})
}

// RemovePeer tears a peer down on both planes (member disappeared)
func (r *PeerRegistry) RemovePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(peerKey{peerID, PlaneVoice})
	r.closeLocked(peerKey{peerID, PlaneVideo})
}

// ClosePlane tears every peer on a plane down and releases its capture
// (local leave_voice / leave_video)
func (r *PeerRegistry) ClosePlane(plane Plane) {
	r.mu.Lock()
	for key := range r.peers {
		if key.plane == plane {
			r.closeLocked(key)
		}
	}
	capture := r.captures[plane]
	delete(r.captures, plane)
	r.mu.Unlock()

	if capture != nil {
		capture.Release()
	}
}

// Teardown closes everything: both planes and all captures. Called on
// connection close, tab close, or navigation.
func (r *PeerRegistry) Teardown() {
	r.mu.Lock()
	for key := range r.peers {
		r.closeLocked(key)
	}
	captures := make([]*Capture, 0, len(r.captures))
	for _, c := range r.captures {
		captures = append(captures, c)
	}
	r.captures = make(map[Plane]*Capture)
	r.mu.Unlock()

	for _, c := range captures {
		c.Release()
	}
}

// ActivePeers lists the peers currently live on a plane, closed ones
// excluded
func (r *PeerRegistry) ActivePeers(plane Plane) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0)
	for key, state := range r.peers {
		if key.plane == plane && state != PeerClosed {
			out = append(out, key.id)
		}
	}
	return out
}

// closeLocked marks one pair closed. Unknown pairs stay untracked so a
// stray close does not invent an entry.
func (r *PeerRegistry) closeLocked(key peerKey) {
	if _, ok := r.peers[key]; ok {
		r.peers[key] = PeerClosed
	}
}

func (r *PeerRegistry) transition(peerID string, plane Plane, to PeerState, from ...PeerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := peerKey{peerID, plane}
	state := r.peers[key]
	for _, f := range from {
		if state == f {
			r.peers[key] = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition for %s/%s: %s -> %s", peerID, plane, state, to)
}
