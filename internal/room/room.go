package room

import (
	"encoding/json"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"boardsync/internal/model"
	"boardsync/internal/protocol"
)

// chatMessageLimit truncates oversized chat messages instead of rejecting
const chatMessageLimit = 2000

// Room is the authoritative state for one board session. Every mutation
// goes through Dispatch, which holds the room mutex across mutate and
// fan-out enqueue, so all senders observe a single serialized order.
type Room struct {
	BoardID string

	mu           sync.Mutex
	clients      map[string]*Client
	elements     []model.Element
	chat         []model.ChatMessage
	activities   []model.Activity
	presence     map[string]*model.Presence
	voiceMembers map[string]struct{}
	videoMembers map[string]struct{}
}

func newRoom(boardID string, elements []model.Element, chat []model.ChatMessage) *Room {
	return &Room{
		BoardID:      boardID,
		clients:      make(map[string]*Client),
		elements:     elements,
		chat:         chat,
		presence:     make(map[string]*model.Presence),
		voiceMembers: make(map[string]struct{}),
		videoMembers: make(map[string]struct{}),
	}
}

// Join registers a client, seeds the board from a template when the history
// is still empty, sends the bootstrap frame to the joiner and announces it
// to everyone else. The whole handshake is one serialized step.
func (r *Room) Join(c *Client, seed []model.Element) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.elements) == 0 && len(seed) > 0 {
		r.elements = model.CloneElements(seed)
		log.Printf("[Room %s] seeded %d template elements", r.BoardID, len(seed))
	}

	pres := &model.Presence{
		ClientID: c.ID,
		UserID:   c.UserID,
		Username: c.Username,
		Avatar:   c.Avatar,
		Color:    model.CursorColor(c.ID),
		Status:   "online",
	}

	r.clients[c.ID] = c
	r.presence[c.ID] = pres

	c.SendJSON(protocol.ConnectionEstablished{
		Type:       protocol.TypeConnectionEstablished,
		ClientID:   c.ID,
		User:       protocol.UserInfo{UserID: c.UserID, Username: c.Username, Avatar: c.Avatar},
		History:    model.CloneElements(r.elements),
		Chat:       append([]model.ChatMessage(nil), r.chat...),
		Activities: append([]model.Activity(nil), r.activities...),
		Presence:   r.presenceSnapshotLocked(c.ID),
		VoiceIDs:   memberIDs(r.voiceMembers),
		VideoIDs:   memberIDs(r.videoMembers),
	})

	act := r.appendActivityLocked(c, "joined the board")
	r.broadcastLocked(c.ID, protocol.UserJoined{
		Type:     protocol.TypeUserJoined,
		Presence: *pres,
		Activity: act,
	})

	log.Printf("[Room %s] client %s joined (user=%d), members=%d",
		r.BoardID, c.ID, c.UserID, len(r.clients))
}

// Leave removes a client from membership, presence and both media sets,
// announces the departure and returns the remaining member count.
func (r *Room) Leave(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return len(r.clients)
	}

	delete(r.clients, clientID)
	delete(r.presence, clientID)
	delete(r.voiceMembers, clientID)
	delete(r.videoMembers, clientID)

	act := r.appendActivityLocked(c, "left the board")
	r.broadcastLocked(clientID, protocol.UserLeft{
		Type:     protocol.TypeUserLeft,
		ClientID: clientID,
		Activity: act,
	})

	log.Printf("[Room %s] client %s left, members=%d", r.BoardID, clientID, len(r.clients))
	return len(r.clients)
}

// Dispatch applies one validated inbound message from origin. Events that
// reference a missing element are dropped silently (idempotent-ignore).
func (r *Room) Dispatch(origin *Client, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[origin.ID]; !ok {
		return
	}

	switch m := msg.(type) {
	case protocol.DrawAction:
		if r.findElementLocked(m.Element.ID) >= 0 {
			return // idempotent create
		}
		r.elements = append(r.elements, m.Element.Clone())
		r.broadcastLocked(origin.ID, protocol.ElementCreated{
			Type: protocol.TypeDrawAction, ClientID: origin.ID, Element: m.Element,
		})

	case protocol.BatchDrawAction:
		added := make([]model.Element, 0, len(m.Elements))
		for _, el := range m.Elements {
			if r.findElementLocked(el.ID) >= 0 {
				continue
			}
			r.elements = append(r.elements, el.Clone())
			added = append(added, el)
		}
		if len(added) == 0 {
			return
		}
		r.broadcastLocked(origin.ID, protocol.ElementsCreated{
			Type: protocol.TypeBatchDrawAction, ClientID: origin.ID, Elements: added,
		})

	case protocol.ElementUpdate:
		i := r.findElementLocked(m.Element.ID)
		if i < 0 {
			return
		}
		r.elements[i] = m.Element.Clone() // wholesale replace, last write wins
		r.broadcastLocked(origin.ID, protocol.ElementReplaced{
			Type: protocol.TypeElementUpdate, ClientID: origin.ID, Element: m.Element,
		})

	case protocol.ElementDelete:
		i := r.findElementLocked(m.ElementID)
		if i < 0 {
			return
		}
		r.elements = append(r.elements[:i], r.elements[i+1:]...)
		r.broadcastLocked(origin.ID, protocol.ElementRemoved{
			Type: protocol.TypeElementDelete, ClientID: origin.ID, ElementID: m.ElementID,
		})

	case protocol.ClearBoard:
		r.elements = nil
		act := r.appendActivityLocked(origin, "cleared the board")
		r.broadcastLocked(origin.ID, protocol.BoardCleared{
			Type: protocol.TypeClearBoard, ClientID: origin.ID, Activity: act,
		})

	case protocol.CursorMove:
		pres, ok := r.presence[origin.ID]
		if !ok {
			return
		}
		pres.Cursor = model.Point{X: m.X, Y: m.Y}
		r.broadcastLocked(origin.ID, protocol.PresenceUpdate{
			Type: protocol.TypePresenceUpdate, Presence: *pres,
		})

	case protocol.AddComment:
		i := r.findElementLocked(m.ElementID)
		if i < 0 {
			return
		}
		comment := model.Comment{
			ID:        uuid.NewString(),
			UserID:    origin.UserID,
			Username:  origin.Username,
			Avatar:    origin.Avatar,
			Text:      m.Text,
			CreatedAt: time.Now().UnixMilli(),
		}
		r.elements[i].Comments = append(r.elements[i].Comments, comment)
		r.broadcastLocked(origin.ID, protocol.CommentAdded{
			Type: protocol.TypeAddComment, ClientID: origin.ID,
			ElementID: m.ElementID, Comment: comment,
		})

	case protocol.AddReaction:
		i := r.findElementLocked(m.ElementID)
		if i < 0 {
			return
		}
		// Intentionally no dedup by (user, emoji): repeats accumulate.
		reaction := model.Reaction{
			UserID:    origin.UserID,
			Username:  origin.Username,
			Emoji:     m.Emoji,
			CreatedAt: time.Now().UnixMilli(),
		}
		r.elements[i].Reactions = append(r.elements[i].Reactions, reaction)
		r.broadcastLocked(origin.ID, protocol.ReactionAdded{
			Type: protocol.TypeAddReaction, ClientID: origin.ID,
			ElementID: m.ElementID, Reaction: reaction,
		})

	case protocol.ChatMessage:
		text := m.Text
		if len(text) > chatMessageLimit {
			// Cut on a rune boundary; a byte cut can split a multi-byte
			// rune and broadcast invalid UTF-8.
			cut := chatMessageLimit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		entry := model.ChatMessage{
			ID:        uuid.NewString(),
			ClientID:  origin.ID,
			UserID:    origin.UserID,
			Username:  origin.Username,
			Avatar:    origin.Avatar,
			Text:      text,
			CreatedAt: time.Now().UnixMilli(),
		}
		r.chat = append(r.chat, entry)
		r.broadcastLocked(origin.ID, protocol.ChatPosted{
			Type: protocol.TypeChatMessage, Message: entry,
		})

	case protocol.TypingStart:
		r.broadcastLocked(origin.ID, protocol.Typing{
			Type: protocol.TypeTypingStart, ClientID: origin.ID, Username: origin.Username,
		})

	case protocol.MediaMembership:
		switch m.Type {
		case protocol.TypeJoinVoice:
			r.voiceMembers[origin.ID] = struct{}{}
		case protocol.TypeLeaveVoice:
			delete(r.voiceMembers, origin.ID)
		case protocol.TypeJoinVideo:
			r.videoMembers[origin.ID] = struct{}{}
		case protocol.TypeLeaveVideo:
			delete(r.videoMembers, origin.ID)
		}
		r.broadcastLocked(origin.ID, protocol.MediaMembershipChanged{
			Type: m.Type, ClientID: origin.ID,
		})

	case protocol.Signal:
		// Point-to-point relay: verbatim payload, target only, never self.
		if m.TargetID == origin.ID {
			return
		}
		if _, ok := r.clients[m.TargetID]; !ok {
			return // target gone, drop silently
		}
		r.sendToLocked(m.TargetID, protocol.SignalDelivery{
			Type: m.Type, FromID: origin.ID, Signal: m.Signal,
		})
	}
}

// Snapshot returns copies of the durable room state for persistence
func (r *Room) Snapshot() ([]model.Element, []model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.CloneElements(r.elements), append([]model.ChatMessage(nil), r.chat...)
}

// MemberCount reports current membership
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Elements returns a copy of the current element list
func (r *Room) Elements() []model.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.CloneElements(r.elements)
}

// Presences returns every member's presence except exclude
func (r *Room) Presences(exclude string) []model.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceSnapshotLocked(exclude)
}

func (r *Room) findElementLocked(id string) int {
	for i := range r.elements {
		if r.elements[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Room) appendActivityLocked(c *Client, action string) model.Activity {
	act := model.Activity{
		ID:        uuid.NewString(),
		ClientID:  c.ID,
		Username:  c.Username,
		Action:    action,
		CreatedAt: time.Now().UnixMilli(),
	}
	r.activities = append(r.activities, act)
	if len(r.activities) > model.ActivityLimit {
		r.activities = r.activities[len(r.activities)-model.ActivityLimit:]
	}
	return act
}

func (r *Room) presenceSnapshotLocked(exclude string) []model.Presence {
	out := make([]model.Presence, 0, len(r.presence))
	for id, p := range r.presence {
		if id == exclude {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// broadcastLocked fans v out to every member except origin. Marshals once;
// a failed or slow recipient only loses its own copy.
func (r *Room) broadcastLocked(originID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Room %s] broadcast marshal failed: %v", r.BoardID, err)
		return
	}
	for id, c := range r.clients {
		if id == originID {
			continue
		}
		c.Send(data)
	}
}

func (r *Room) sendToLocked(targetID string, v any) {
	c, ok := r.clients[targetID]
	if !ok {
		return
	}
	c.SendJSON(v)
}

func memberIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
