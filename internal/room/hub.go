package room

import (
	"context"
	"log"
	"sync"
	"time"

	"boardsync/internal/model"
)

// SnapshotStore persists a room's durable state across empty intervals.
// It is strictly best-effort: failures are logged and ignored.
type SnapshotStore interface {
	SaveBoard(ctx context.Context, boardID string, elements []model.Element, chat []model.ChatMessage) error
	LoadBoard(ctx context.Context, boardID string) ([]model.Element, []model.ChatMessage, error)
}

const snapshotTimeout = 2 * time.Second

// Hub maps board ids to live rooms. Rooms are created lazily on first join
// and dropped once membership reaches zero.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	snapshots SnapshotStore // optional
}

// NewHub creates a hub. snapshots may be nil.
func NewHub(snapshots SnapshotStore) *Hub {
	return &Hub{
		rooms:     make(map[string]*Room),
		snapshots: snapshots,
	}
}

// Join resolves the board's room, creating it when needed, and registers
// the client in the same step under the hub lock. Resolution and
// registration must be atomic: otherwise a concurrent ReleaseIfEmpty can
// delete the room in between and strand the joiner in a room the hub no
// longer tracks.
func (h *Hub) Join(boardID string, c *Client, seed []model.Element) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.getOrCreateLocked(boardID)
	r.Join(c, seed)
	return r
}

// GetOrCreateRoom returns the live room for a board, creating it on first
// use. A freshly created room is rehydrated from the snapshot store.
func (h *Hub) GetOrCreateRoom(boardID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getOrCreateLocked(boardID)
}

func (h *Hub) getOrCreateLocked(boardID string) *Room {
	if r, ok := h.rooms[boardID]; ok {
		return r
	}

	var elements []model.Element
	var chat []model.ChatMessage
	if h.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		els, msgs, err := h.snapshots.LoadBoard(ctx, boardID)
		cancel()
		if err != nil {
			log.Printf("[Hub] snapshot load for %s failed: %v", boardID, err)
		} else {
			elements, chat = els, msgs
		}
	}

	r := newRoom(boardID, elements, chat)
	h.rooms[boardID] = r
	log.Printf("[Hub] created room %s", boardID)
	return r
}

// GetRoom returns a live room without creating one
func (h *Hub) GetRoom(boardID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[boardID]
	return r, ok
}

// ReleaseIfEmpty tears a room down once its membership has reached zero,
// snapshotting its durable state first.
func (h *Hub) ReleaseIfEmpty(boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[boardID]
	if !ok || r.MemberCount() > 0 {
		return
	}
	delete(h.rooms, boardID)
	log.Printf("[Hub] removed room %s", boardID)

	if h.snapshots == nil {
		return
	}
	elements, chat := r.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := h.snapshots.SaveBoard(ctx, boardID, elements, chat); err != nil {
			log.Printf("[Hub] snapshot save for %s failed: %v", boardID, err)
		}
	}()
}

// RoomCount reports the number of live rooms
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
