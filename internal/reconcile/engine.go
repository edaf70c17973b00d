// Package reconcile implements the client side of the board sync protocol:
// a local mirror of room state kept eventually consistent with the server,
// optimistic local mutation, a local-only undo/redo stack, and the peer
// connection bookkeeping for the voice and video meshes.
package reconcile

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardsync/internal/model"
	"boardsync/internal/protocol"
)

var (
	ErrElementLocked  = errors.New("element is locked")
	ErrUnknownElement = errors.New("element not found")
	ErrNotConnected   = errors.New("engine not bootstrapped")
)

// cursorMinInterval throttles cursor_move sends
const cursorMinInterval = 50 * time.Millisecond

// Engine is one connection's reconciliation state. It is constructed when
// the channel opens and discarded when it closes; nothing lives in package
// scope.
type Engine struct {
	mu sync.Mutex

	clientID string
	user     protocol.UserInfo
	send     func(msg any)
	now      func() time.Time

	elements   []model.Element
	chat       []model.ChatMessage
	activities []model.Activity
	cursors    map[string]model.Presence // other clients only
	voiceIDs   map[string]struct{}
	videoIDs   map[string]struct{}

	// Local-only undo stack of full element snapshots. Never synchronized;
	// undo/redo re-emit their diff as ordinary protocol events so remote
	// mirrors converge anyway.
	history     [][]model.Element
	historyStep int

	lastCursorSent time.Time

	// Peers, when set, is torn down alongside membership changes
	Peers *PeerRegistry

	// OnTyping and OnSignal surface transient events to the UI layer
	OnTyping func(clientID, username string)
	OnSignal func(plane, fromID string, signal json.RawMessage)
}

// NewEngine creates an engine that emits outbound messages through send
func NewEngine(send func(msg any)) *Engine {
	return &Engine{
		send:     send,
		now:      time.Now,
		cursors:  make(map[string]model.Presence),
		voiceIDs: make(map[string]struct{}),
		videoIDs: make(map[string]struct{}),
	}
}

// Apply merges one raw server frame into the mirror
func (e *Engine) Apply(data []byte) error {
	ev, err := protocol.DecodeServerEvent(data)
	if err != nil {
		return err
	}
	e.ApplyEvent(ev)
	return nil
}

// ApplyEvent merges one decoded server event into the mirror. Remote events
// never touch the undo stack.
func (e *Engine) ApplyEvent(ev protocol.ServerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := ev.(type) {
	case *protocol.ConnectionEstablished:
		e.clientID = ev.ClientID
		e.user = ev.User
		e.elements = model.CloneElements(ev.History)
		e.chat = append([]model.ChatMessage(nil), ev.Chat...)
		e.activities = append([]model.Activity(nil), ev.Activities...)
		e.cursors = make(map[string]model.Presence, len(ev.Presence))
		for _, p := range ev.Presence {
			if p.ClientID == ev.ClientID {
				continue // self never renders as a remote cursor
			}
			e.cursors[p.ClientID] = p
		}
		e.voiceIDs = idSet(ev.VoiceIDs)
		e.videoIDs = idSet(ev.VideoIDs)
		e.history = [][]model.Element{model.CloneElements(e.elements)}
		e.historyStep = 0

	case *protocol.ElementCreated:
		e.insertLocked(ev.Element)

	case *protocol.ElementsCreated:
		for _, el := range ev.Elements {
			e.insertLocked(el)
		}

	case *protocol.ElementReplaced:
		if i := e.findLocked(ev.Element.ID); i >= 0 {
			e.elements[i] = ev.Element.Clone()
		}

	case *protocol.ElementRemoved:
		if i := e.findLocked(ev.ElementID); i >= 0 {
			e.elements = append(e.elements[:i], e.elements[i+1:]...)
		}

	case *protocol.BoardCleared:
		e.elements = nil
		e.appendActivityLocked(ev.Activity)

	case *protocol.CommentAdded:
		if i := e.findLocked(ev.ElementID); i >= 0 {
			e.elements[i].Comments = append(e.elements[i].Comments, ev.Comment)
		}

	case *protocol.ReactionAdded:
		if i := e.findLocked(ev.ElementID); i >= 0 {
			e.elements[i].Reactions = append(e.elements[i].Reactions, ev.Reaction)
		}

	case *protocol.ChatPosted:
		e.chat = append(e.chat, ev.Message)

	case *protocol.Typing:
		if e.OnTyping != nil {
			e.OnTyping(ev.ClientID, ev.Username)
		}

	case *protocol.UserJoined:
		e.cursors[ev.Presence.ClientID] = ev.Presence
		e.appendActivityLocked(ev.Activity)

	case *protocol.UserLeft:
		delete(e.cursors, ev.ClientID)
		delete(e.voiceIDs, ev.ClientID)
		delete(e.videoIDs, ev.ClientID)
		e.appendActivityLocked(ev.Activity)
		if e.Peers != nil {
			e.Peers.RemovePeer(ev.ClientID)
		}

	case *protocol.PresenceUpdate:
		if ev.Presence.ClientID != e.clientID {
			e.cursors[ev.Presence.ClientID] = ev.Presence
		}

	case *protocol.MediaMembershipChanged:
		switch ev.Type {
		case protocol.TypeJoinVoice:
			e.voiceIDs[ev.ClientID] = struct{}{}
		case protocol.TypeLeaveVoice:
			delete(e.voiceIDs, ev.ClientID)
			if e.Peers != nil {
				e.Peers.ClosePeer(ev.ClientID, PlaneVoice)
			}
		case protocol.TypeJoinVideo:
			e.videoIDs[ev.ClientID] = struct{}{}
		case protocol.TypeLeaveVideo:
			delete(e.videoIDs, ev.ClientID)
			if e.Peers != nil {
				e.Peers.ClosePeer(ev.ClientID, PlaneVideo)
			}
		}

	case *protocol.SignalDelivery:
		if e.OnSignal != nil {
			plane := "video"
			if ev.Type == protocol.TypeVoiceSignal {
				plane = "voice"
			}
			e.OnSignal(plane, ev.FromID, ev.Signal)
		}
	}
}

// ===== local optimistic mutations =====

// CreateElement applies a locally drawn element and emits draw_action.
// An empty id gets a generated one.
func (e *Engine) CreateElement(el model.Element) (model.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clientID == "" {
		return model.Element{}, ErrNotConnected
	}
	if el.ID == "" {
		el.ID = model.NewElementID()
	}
	if !model.ValidElementType(el.Type) {
		return model.Element{}, errors.New("unknown element type")
	}
	if el.CreatedBy == "" {
		el.CreatedBy = e.user.Username
	}
	if el.CreatedAt == 0 {
		el.CreatedAt = e.now().UnixMilli()
	}
	if e.findLocked(el.ID) >= 0 {
		return el, nil // already present, replay is a no-op
	}
	e.elements = append(e.elements, el.Clone())
	e.pushHistoryLocked()
	e.send(protocol.DrawAction{Type: protocol.TypeDrawAction, Element: el})
	return el, nil
}

// CreateElements applies a locally produced batch (paste, duplicate) and
// emits batch_draw_action for the ones actually new.
func (e *Engine) CreateElements(els []model.Element) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clientID == "" {
		return ErrNotConnected
	}
	added := make([]model.Element, 0, len(els))
	for _, el := range els {
		if el.ID == "" {
			el.ID = model.NewElementID()
		}
		if e.findLocked(el.ID) >= 0 {
			continue
		}
		e.elements = append(e.elements, el.Clone())
		added = append(added, el)
	}
	if len(added) == 0 {
		return nil
	}
	e.pushHistoryLocked()
	e.send(protocol.BatchDrawAction{Type: protocol.TypeBatchDrawAction, Elements: added})
	return nil
}

// UpdateElement replaces an element wholesale and emits element_update
func (e *Engine) UpdateElement(el model.Element) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findLocked(el.ID)
	if i < 0 {
		return ErrUnknownElement
	}
	e.elements[i] = el.Clone()
	e.pushHistoryLocked()
	e.send(protocol.ElementUpdate{Type: protocol.TypeElementUpdate, Element: el})
	return nil
}

// MoveElement shifts an element by (dx, dy). Locked elements refuse drags.
func (e *Engine) MoveElement(id string, dx, dy float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findLocked(id)
	if i < 0 {
		return ErrUnknownElement
	}
	if e.elements[i].Locked {
		return ErrElementLocked
	}

	el := e.elements[i].Clone()
	el.StartPoint.X += dx
	el.StartPoint.Y += dy
	if el.EndPoint != nil {
		el.EndPoint.X += dx
		el.EndPoint.Y += dy
	}
	for j := range el.Points {
		el.Points[j].X += dx
		el.Points[j].Y += dy
	}

	e.elements[i] = el
	e.pushHistoryLocked()
	e.send(protocol.ElementUpdate{Type: protocol.TypeElementUpdate, Element: el})
	return nil
}

// SetElementText edits the text of a text or sticky-note element
func (e *Engine) SetElementText(id, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findLocked(id)
	if i < 0 {
		return ErrUnknownElement
	}
	el := e.elements[i].Clone()
	el.Text = text
	e.elements[i] = el
	e.pushHistoryLocked()
	e.send(protocol.ElementUpdate{Type: protocol.TypeElementUpdate, Element: el})
	return nil
}

// DeleteElement removes an element. Locked elements refuse deletion.
func (e *Engine) DeleteElement(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findLocked(id)
	if i < 0 {
		return ErrUnknownElement
	}
	if e.elements[i].Locked {
		return ErrElementLocked
	}
	e.elements = append(e.elements[:i], e.elements[i+1:]...)
	e.pushHistoryLocked()
	e.send(protocol.ElementDelete{Type: protocol.TypeElementDelete, ElementID: id})
	return nil
}

// Clear wipes the board and emits clear_board
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.elements = nil
	e.pushHistoryLocked()
	e.send(protocol.ClearBoard{Type: protocol.TypeClearBoard})
}

// AddComment appends a comment locally and emits add_comment. The server
// stamps its own copy for other observers; comment ids are local-scoped.
func (e *Engine) AddComment(elementID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findLocked(elementID)
	if i < 0 {
		return ErrUnknownElement
	}
	e.elements[i].Comments = append(e.elements[i].Comments, model.Comment{
		ID:        uuid.NewString(),
		UserID:    e.user.UserID,
		Username:  e.user.Username,
		Avatar:    e.user.Avatar,
		Text:      text,
		CreatedAt: e.now().UnixMilli(),
	})
	e.send(protocol.AddComment{Type: protocol.TypeAddComment, ElementID: elementID, Text: text})
	return nil
}

// AddReaction appends a reaction locally and emits add_reaction. Repeats
// accumulate; there is no dedup by (user, emoji).
func (e *Engine) AddReaction(elementID, emoji string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findLocked(elementID)
	if i < 0 {
		return ErrUnknownElement
	}
	e.elements[i].Reactions = append(e.elements[i].Reactions, model.Reaction{
		UserID:    e.user.UserID,
		Username:  e.user.Username,
		Emoji:     emoji,
		CreatedAt: e.now().UnixMilli(),
	})
	e.send(protocol.AddReaction{Type: protocol.TypeAddReaction, ElementID: elementID, Emoji: emoji})
	return nil
}

// SendChat appends a chat message locally and emits chat_message
func (e *Engine) SendChat(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chat = append(e.chat, model.ChatMessage{
		ID:        uuid.NewString(),
		ClientID:  e.clientID,
		UserID:    e.user.UserID,
		Username:  e.user.Username,
		Avatar:    e.user.Avatar,
		Text:      text,
		CreatedAt: e.now().UnixMilli(),
	})
	e.send(protocol.ChatMessage{Type: protocol.TypeChatMessage, Text: text})
}

// Typing emits a transient typing signal
func (e *Engine) Typing() {
	e.send(protocol.TypingStart{Type: protocol.TypeTypingStart})
}

// CursorMove emits the local cursor position, throttled to one send per
// 50ms. Returns whether the move was actually sent.
func (e *Engine) CursorMove(x, y float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if now.Sub(e.lastCursorSent) < cursorMinInterval {
		return false
	}
	e.lastCursorSent = now
	e.send(protocol.CursorMove{Type: protocol.TypeCursorMove, X: x, Y: y})
	return true
}

// JoinVoice announces voice mesh membership
func (e *Engine) JoinVoice() {
	e.send(protocol.MediaMembership{Type: protocol.TypeJoinVoice})
}

// LeaveVoice withdraws from the voice mesh and tears its peers down
func (e *Engine) LeaveVoice() {
	if e.Peers != nil {
		e.Peers.ClosePlane(PlaneVoice)
	}
	e.send(protocol.MediaMembership{Type: protocol.TypeLeaveVoice})
}

// JoinVideo announces video mesh membership
func (e *Engine) JoinVideo() {
	e.send(protocol.MediaMembership{Type: protocol.TypeJoinVideo})
}

// LeaveVideo withdraws from the video mesh and tears its peers down
func (e *Engine) LeaveVideo() {
	if e.Peers != nil {
		e.Peers.ClosePlane(PlaneVideo)
	}
	e.send(protocol.MediaMembership{Type: protocol.TypeLeaveVideo})
}

// Close tears down the engine on connection close. Peer connections and
// media captures are released on every exit path.
func (e *Engine) Close() {
	if e.Peers != nil {
		e.Peers.Teardown()
	}
}

// ===== undo / redo =====

// Undo steps the local mirror back one snapshot and re-emits the diff as
// ordinary protocol events so remote observers stay consistent.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.historyStep == 0 {
		return false
	}
	e.historyStep--
	target := e.history[e.historyStep]
	e.applySnapshotLocked(target)
	return true
}

// Redo steps forward again
func (e *Engine) Redo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.historyStep >= len(e.history)-1 {
		return false
	}
	e.historyStep++
	target := e.history[e.historyStep]
	e.applySnapshotLocked(target)
	return true
}

// CanUndo reports whether an undo step exists
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyStep > 0
}

// CanRedo reports whether a redo step exists
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyStep < len(e.history)-1
}

// applySnapshotLocked replaces the mirror with target and emits the
// deletes, creates and updates needed to move observers there too
func (e *Engine) applySnapshotLocked(target []model.Element) {
	current := e.elements
	targetByID := make(map[string]model.Element, len(target))
	for _, el := range target {
		targetByID[el.ID] = el
	}
	currentByID := make(map[string]model.Element, len(current))
	for _, el := range current {
		currentByID[el.ID] = el
	}

	for _, el := range current {
		if _, ok := targetByID[el.ID]; !ok {
			e.send(protocol.ElementDelete{Type: protocol.TypeElementDelete, ElementID: el.ID})
		}
	}
	for _, el := range target {
		prev, existed := currentByID[el.ID]
		if !existed {
			e.send(protocol.DrawAction{Type: protocol.TypeDrawAction, Element: el})
		} else if !reflect.DeepEqual(prev, el) {
			e.send(protocol.ElementUpdate{Type: protocol.TypeElementUpdate, Element: el})
		}
	}

	e.elements = model.CloneElements(target)
}

// pushHistoryLocked records a completed local mutation. Any redo branch
// past the current step is discarded.
func (e *Engine) pushHistoryLocked() {
	e.history = append(e.history[:e.historyStep+1], model.CloneElements(e.elements))
	e.historyStep = len(e.history) - 1
}

// ===== accessors =====

// ClientID returns the server-assigned connection id
func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

// Elements returns a copy of the mirrored element list
func (e *Engine) Elements() []model.Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CloneElements(e.elements)
}

// Chat returns a copy of the mirrored chat log
func (e *Engine) Chat() []model.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.ChatMessage(nil), e.chat...)
}

// Activities returns a copy of the mirrored activity feed
func (e *Engine) Activities() []model.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Activity(nil), e.activities...)
}

// RemoteCursors returns the presence of every other client
func (e *Engine) RemoteCursors() map[string]model.Presence {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]model.Presence, len(e.cursors))
	for id, p := range e.cursors {
		out[id] = p
	}
	return out
}

// VoiceMembers returns the client ids currently in the voice mesh
func (e *Engine) VoiceMembers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return setIDs(e.voiceIDs)
}

// VideoMembers returns the client ids currently in the video mesh
func (e *Engine) VideoMembers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return setIDs(e.videoIDs)
}

func (e *Engine) findLocked(id string) int {
	for i := range e.elements {
		if e.elements[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) insertLocked(el model.Element) {
	if e.findLocked(el.ID) >= 0 {
		return // already known, replay is idempotent
	}
	e.elements = append(e.elements, el.Clone())
}

func (e *Engine) appendActivityLocked(act model.Activity) {
	e.activities = append(e.activities, act)
	if len(e.activities) > model.ActivityLimit {
		e.activities = e.activities[len(e.activities)-model.ActivityLimit:]
	}
}

func idSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func setIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
