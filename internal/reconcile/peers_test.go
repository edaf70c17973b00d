package reconcile

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/protocol"
)

type sentSignal struct {
	plane  Plane
	target string
}

type signalRecorder struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (r *signalRecorder) send(plane Plane, targetID string, _ json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentSignal{plane, targetID})
}

func (r *signalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fakeTrack struct {
	mu    sync.Mutex
	stops int
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeTrack) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func TestPeerHandshakeWalksTheStates(t *testing.T) {
	rec := &signalRecorder{}
	r := NewPeerRegistry(rec.send)

	assert.Equal(t, PeerNone, r.State("p1", PlaneVoice))

	require.NoError(t, r.SendOffer("p1", PlaneVoice, json.RawMessage(`{"sdp":"offer"}`)))
	assert.Equal(t, PeerOfferSent, r.State("p1", PlaneVoice))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, PlaneVoice, rec.sent[0].plane)
	assert.Equal(t, "p1", rec.sent[0].target)

	require.NoError(t, r.AnswerReceived("p1", PlaneVoice))
	assert.Equal(t, PeerAnswerReceived, r.State("p1", PlaneVoice))

	require.NoError(t, r.SendICECandidate("p1", PlaneVoice, json.RawMessage(`{"candidate":"a"}`)))
	assert.Equal(t, PeerICEExchanging, r.State("p1", PlaneVoice))
	require.NoError(t, r.RemoteICECandidate("p1", PlaneVoice))

	require.NoError(t, r.Connected("p1", PlaneVoice))
	assert.Equal(t, PeerConnected, r.State("p1", PlaneVoice))
	assert.Equal(t, []string{"p1"}, r.ActivePeers(PlaneVoice))

	r.ClosePeer("p1", PlaneVoice)
	assert.Equal(t, PeerClosed, r.State("p1", PlaneVoice))
	assert.Empty(t, r.ActivePeers(PlaneVoice))

	// a closed peer can be offered again
	require.NoError(t, r.SendOffer("p1", PlaneVoice, nil))
}

func TestPeerInvalidTransitionsFail(t *testing.T) {
	rec := &signalRecorder{}
	r := NewPeerRegistry(rec.send)

	// answer without an offer
	assert.Error(t, r.AnswerReceived("p1", PlaneVoice))
	// connected straight from idle
	assert.Error(t, r.Connected("p1", PlaneVoice))
	// ICE before the offer went out
	assert.Error(t, r.SendICECandidate("p1", PlaneVoice, nil))
	assert.Equal(t, 0, rec.count(), "failed transitions never emit signals")

	require.NoError(t, r.SendOffer("p1", PlaneVoice, nil))
	// double offer while one is pending
	assert.Error(t, r.SendOffer("p1", PlaneVoice, nil))
}

func TestPeerPlanesAreIndependent(t *testing.T) {
	rec := &signalRecorder{}
	r := NewPeerRegistry(rec.send)

	require.NoError(t, r.SendOffer("p1", PlaneVoice, nil))
	require.NoError(t, r.SendOffer("p1", PlaneVideo, nil))
	require.NoError(t, r.AnswerReceived("p1", PlaneVoice))

	assert.Equal(t, PeerAnswerReceived, r.State("p1", PlaneVoice))
	assert.Equal(t, PeerOfferSent, r.State("p1", PlaneVideo))

	r.ClosePeer("p1", PlaneVoice)
	assert.Equal(t, PeerClosed, r.State("p1", PlaneVoice))
	assert.Equal(t, PeerOfferSent, r.State("p1", PlaneVideo), "closing one plane leaves the other alone")
}

func TestRemovePeerClosesBothPlanes(t *testing.T) {
	r := NewPeerRegistry(func(Plane, string, json.RawMessage) {})

	require.NoError(t, r.SendOffer("p1", PlaneVoice, nil))
	require.NoError(t, r.SendOffer("p1", PlaneVideo, nil))
	require.NoError(t, r.SendOffer("p2", PlaneVoice, nil))

	r.RemovePeer("p1")
	assert.Equal(t, PeerClosed, r.State("p1", PlaneVoice))
	assert.Equal(t, PeerClosed, r.State("p1", PlaneVideo))
	assert.Equal(t, PeerOfferSent, r.State("p2", PlaneVoice), "other peers are untouched")
}

func TestCaptureReleaseIsIdempotent(t *testing.T) {
	track := &fakeTrack{}
	cap := NewCapture(track)
	cap.Release()
	cap.Release()
	assert.Equal(t, 1, track.stopCount(), "tracks stop exactly once")
}

func TestSetCaptureReleasesPrevious(t *testing.T) {
	r := NewPeerRegistry(func(Plane, string, json.RawMessage) {})

	old := &fakeTrack{}
	r.SetCapture(PlaneVideo, NewCapture(old))
	replacement := &fakeTrack{}
	r.SetCapture(PlaneVideo, NewCapture(replacement))

	assert.Equal(t, 1, old.stopCount(), "replacing a capture releases the old one")
	assert.Equal(t, 0, replacement.stopCount())
}

func TestClosePlaneReleasesPeersAndCapture(t *testing.T) {
	r := NewPeerRegistry(func(Plane, string, json.RawMessage) {})

	mic := &fakeTrack{}
	r.SetCapture(PlaneVoice, NewCapture(mic))
	camera := &fakeTrack{}
	r.SetCapture(PlaneVideo, NewCapture(camera))

	require.NoError(t, r.SendOffer("p1", PlaneVoice, nil))
	require.NoError(t, r.SendOffer("p1", PlaneVideo, nil))

	r.ClosePlane(PlaneVoice)
	assert.Equal(t, PeerClosed, r.State("p1", PlaneVoice))
	assert.Equal(t, 1, mic.stopCount())
	assert.Equal(t, 0, camera.stopCount(), "the video plane keeps its capture")
	assert.Equal(t, PeerOfferSent, r.State("p1", PlaneVideo))
}

func TestTeardownReleasesEverything(t *testing.T) {
	r := NewPeerRegistry(func(Plane, string, json.RawMessage) {})

	mic := &fakeTrack{}
	r.SetCapture(PlaneVoice, NewCapture(mic))
	camera := &fakeTrack{}
	r.SetCapture(PlaneVideo, NewCapture(camera))
	require.NoError(t, r.SendOffer("p1", PlaneVoice, nil))
	require.NoError(t, r.SendOffer("p2", PlaneVideo, nil))

	r.Teardown()
	assert.Equal(t, PeerClosed, r.State("p1", PlaneVoice))
	assert.Equal(t, PeerClosed, r.State("p2", PlaneVideo))
	assert.Equal(t, 1, mic.stopCount())
	assert.Equal(t, 1, camera.stopCount())

	// teardown twice is harmless
	r.Teardown()
	assert.Equal(t, 1, mic.stopCount())
}

func TestEngineTeardownDrivesPeerRegistry(t *testing.T) {
	e, _ := newTestEngine(t)
	mic := &fakeTrack{}
	e.Peers = NewPeerRegistry(func(Plane, string, json.RawMessage) {})
	e.Peers.SetCapture(PlaneVoice, NewCapture(mic))
	require.NoError(t, e.Peers.SendOffer("other", PlaneVoice, nil))

	// a peer leaving the voice mesh closes its connection
	e.ApplyEvent(&protocol.MediaMembershipChanged{Type: protocol.TypeLeaveVoice, ClientID: "other"})
	assert.Equal(t, PeerClosed, e.Peers.State("other", PlaneVoice))

	e.Close()
	assert.Equal(t, 1, mic.stopCount())
}
