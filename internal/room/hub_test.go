package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/model"
	"boardsync/internal/protocol"
)

type fakeSnapshotStore struct {
	mu       sync.Mutex
	elements map[string][]model.Element
	chat     map[string][]model.ChatMessage
	loadErr  error
	saved    chan string
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		elements: make(map[string][]model.Element),
		chat:     make(map[string][]model.ChatMessage),
		saved:    make(chan string, 8),
	}
}

func (s *fakeSnapshotStore) SaveBoard(_ context.Context, boardID string, elements []model.Element, chat []model.ChatMessage) error {
	s.mu.Lock()
	s.elements[boardID] = elements
	s.chat[boardID] = chat
	s.mu.Unlock()
	s.saved <- boardID
	return nil
}

func (s *fakeSnapshotStore) LoadBoard(_ context.Context, boardID string) ([]model.Element, []model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, nil, s.loadErr
	}
	return s.elements[boardID], s.chat[boardID], nil
}

func (s *fakeSnapshotStore) waitSave(t *testing.T) string {
	t.Helper()
	select {
	case id := <-s.saved:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot save never happened")
		return ""
	}
}

func TestHubCreatesRoomsLazily(t *testing.T) {
	h := NewHub(nil)
	assert.Equal(t, 0, h.RoomCount())

	_, ok := h.GetRoom("b1")
	assert.False(t, ok, "GetRoom must not create")

	r := h.GetOrCreateRoom("b1")
	require.NotNil(t, r)
	assert.Equal(t, 1, h.RoomCount())

	again := h.GetOrCreateRoom("b1")
	assert.Same(t, r, again, "same board id maps to the same room")

	got, ok := h.GetRoom("b1")
	assert.True(t, ok)
	assert.Same(t, r, got)
}

func TestHubReleasesOnlyEmptyRooms(t *testing.T) {
	h := NewHub(nil)
	r := h.GetOrCreateRoom("b1")
	c, _ := joinClient(r, "ca", 1, "ann")

	h.ReleaseIfEmpty("b1")
	assert.Equal(t, 1, h.RoomCount(), "occupied room stays")

	r.Leave(c.ID)
	h.ReleaseIfEmpty("b1")
	assert.Equal(t, 0, h.RoomCount())

	// releasing an unknown board is a no-op
	h.ReleaseIfEmpty("nope")
}

func TestHubSnapshotsOnTeardownAndRehydrates(t *testing.T) {
	store := newFakeSnapshotStore()
	h := NewHub(store)

	r := h.GetOrCreateRoom("b1")
	c, _ := joinClient(r, "ca", 1, "ann")
	r.Dispatch(c, protocol.DrawAction{Type: protocol.TypeDrawAction, Element: rect("r1", 10, 10)})
	r.Dispatch(c, protocol.ChatMessage{Type: protocol.TypeChatMessage, Text: "hello"})
	r.Leave(c.ID)

	h.ReleaseIfEmpty("b1")
	assert.Equal(t, "b1", store.waitSave(t))

	// next create for the same board picks the snapshot back up
	r2 := h.GetOrCreateRoom("b1")
	require.NotSame(t, r, r2)
	conn := &testConn{}
	c2 := NewClient("cb", 2, "bob", "", conn)
	r2.Join(c2, nil)
	conn.waitFrames(t, 1)
	boot := conn.events(t)[0].(*protocol.ConnectionEstablished)
	require.Len(t, boot.History, 1)
	assert.Equal(t, "r1", boot.History[0].ID)
	require.Len(t, boot.Chat, 1)
	assert.Equal(t, "hello", boot.Chat[0].Text)
}

func TestHubClearedBoardStaysClearedAcrossTeardown(t *testing.T) {
	store := newFakeSnapshotStore()
	store.mu.Lock()
	store.elements["b1"] = []model.Element{rect("old", 0, 0)}
	store.mu.Unlock()

	h := NewHub(store)
	r := h.GetOrCreateRoom("b1")
	c, _ := joinClient(r, "ca", 1, "ann")
	require.Len(t, r.Elements(), 1, "rehydrated from the store")

	r.Dispatch(c, protocol.ClearBoard{Type: protocol.TypeClearBoard})
	r.Leave(c.ID)
	h.ReleaseIfEmpty("b1")
	store.waitSave(t)

	r2 := h.GetOrCreateRoom("b1")
	assert.Empty(t, r2.Elements(), "the empty snapshot must win over the stale one")
}

func TestHubJoinRegistersInTheTrackedRoom(t *testing.T) {
	h := NewHub(nil)
	r := h.GetOrCreateRoom("b1")
	c1, _ := joinClient(r, "ca", 1, "ann")
	r.Leave(c1.ID)

	// Teardown lands between a new joiner's room resolution and its
	// registration. Join must re-resolve, not reuse the removed room.
	h.ReleaseIfEmpty("b1")
	require.Equal(t, 0, h.RoomCount())

	conn := &testConn{}
	c2 := NewClient("cb", 2, "bob", "", conn)
	joined := h.Join("b1", c2, nil)

	tracked, ok := h.GetRoom("b1")
	require.True(t, ok)
	assert.Same(t, joined, tracked, "one live room per board id")
	assert.Equal(t, 1, tracked.MemberCount())

	// the joiner's traffic reaches the room every later client will get
	joined.Dispatch(c2, protocol.DrawAction{Type: protocol.TypeDrawAction, Element: rect("r1", 0, 0)})
	assert.Len(t, tracked.Elements(), 1)

	c3, _ := joinClient(tracked, "cc", 3, "eve")
	_ = c3
	assert.Equal(t, 2, tracked.MemberCount())
}

func TestHubJoinCreatesAndRegistersAtomically(t *testing.T) {
	store := newFakeSnapshotStore()
	store.mu.Lock()
	store.elements["b1"] = []model.Element{rect("r1", 0, 0)}
	store.mu.Unlock()

	h := NewHub(store)
	conn := &testConn{}
	c := NewClient("ca", 1, "ann", "", conn)
	r := h.Join("b1", c, nil)

	assert.Equal(t, 1, h.RoomCount())
	assert.Equal(t, 1, r.MemberCount())

	// rehydration still runs on the create inside Join
	conn.waitFrames(t, 1)
	boot := conn.events(t)[0].(*protocol.ConnectionEstablished)
	require.Len(t, boot.History, 1)
	assert.Equal(t, "r1", boot.History[0].ID)
}

func TestHubSurvivesSnapshotLoadFailure(t *testing.T) {
	store := newFakeSnapshotStore()
	store.loadErr = errors.New("redis down")

	h := NewHub(store)
	r := h.GetOrCreateRoom("b1")
	require.NotNil(t, r, "snapshot failures never block room creation")
	assert.Empty(t, r.Elements())
}
