package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/model"
	"boardsync/internal/protocol"
)

// sentRecorder captures outbound protocol messages
type sentRecorder struct {
	msgs []any
}

func (s *sentRecorder) send(msg any) { s.msgs = append(s.msgs, msg) }

func (s *sentRecorder) ofType(typ string) []any {
	var out []any
	for _, m := range s.msgs {
		if pm, ok := m.(protocol.Message); ok && pm.MessageType() == typ {
			out = append(out, m)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *sentRecorder) {
	t.Helper()
	rec := &sentRecorder{}
	e := NewEngine(rec.send)
	e.ApplyEvent(&protocol.ConnectionEstablished{
		Type:     protocol.TypeConnectionEstablished,
		ClientID: "me",
		User:     protocol.UserInfo{UserID: 1, Username: "ann"},
	})
	return e, rec
}

func rect(id string, x, y float64) model.Element {
	return model.Element{
		ID:         id,
		Type:       model.ElementRectangle,
		StartPoint: model.Point{X: x, Y: y},
		EndPoint:   &model.Point{X: x + 50, Y: y + 50},
	}
}

func TestBootstrapResetsMirror(t *testing.T) {
	rec := &sentRecorder{}
	e := NewEngine(rec.send)

	_, err := e.CreateElement(rect("early", 0, 0))
	assert.ErrorIs(t, err, ErrNotConnected, "mutations before bootstrap must fail")

	e.ApplyEvent(&protocol.ConnectionEstablished{
		Type:     protocol.TypeConnectionEstablished,
		ClientID: "me",
		User:     protocol.UserInfo{UserID: 1, Username: "ann"},
		History:  []model.Element{rect("r1", 0, 0)},
		Chat:     []model.ChatMessage{{ID: "m1", Text: "hi"}},
		Presence: []model.Presence{
			{ClientID: "me", Username: "ann"},
			{ClientID: "other", Username: "bob"},
		},
		VoiceIDs: []string{"other"},
	})

	assert.Equal(t, "me", e.ClientID())
	require.Len(t, e.Elements(), 1)
	require.Len(t, e.Chat(), 1)
	assert.Equal(t, []string{"other"}, e.VoiceMembers())

	cursors := e.RemoteCursors()
	assert.NotContains(t, cursors, "me", "own presence never renders as a remote cursor")
	assert.Contains(t, cursors, "other")

	assert.False(t, e.CanUndo(), "bootstrap clears the undo stack")
	assert.False(t, e.CanRedo())
}

func TestRemoteCreateIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)

	ev := &protocol.ElementCreated{Type: protocol.TypeDrawAction, ClientID: "other", Element: rect("r1", 0, 0)}
	e.ApplyEvent(ev)
	e.ApplyEvent(ev)

	assert.Len(t, e.Elements(), 1)
	assert.False(t, e.CanUndo(), "remote events never touch the undo stack")
}

func TestLocalCreateEmitsAndDedups(t *testing.T) {
	e, rec := newTestEngine(t)

	el, err := e.CreateElement(model.Element{Type: model.ElementStickyNote, Text: "note"})
	require.NoError(t, err)
	assert.NotEmpty(t, el.ID, "an empty id gets generated")
	assert.Equal(t, "ann", el.CreatedBy)
	assert.NotZero(t, el.CreatedAt)

	// replaying the same element is a no-op with no second frame
	_, err = e.CreateElement(el)
	require.NoError(t, err)
	assert.Len(t, e.Elements(), 1)
	assert.Len(t, rec.ofType(protocol.TypeDrawAction), 1)

	_, err = e.CreateElement(model.Element{Type: "polygon"})
	assert.Error(t, err)
}

func TestBatchCreateSendsOnlyNewElements(t *testing.T) {
	e, rec := newTestEngine(t)

	_, err := e.CreateElement(rect("r1", 0, 0))
	require.NoError(t, err)

	err = e.CreateElements([]model.Element{rect("r1", 0, 0), rect("r2", 60, 0)})
	require.NoError(t, err)

	assert.Len(t, e.Elements(), 2)
	batches := rec.ofType(protocol.TypeBatchDrawAction)
	require.Len(t, batches, 1)
	sent := batches[0].(protocol.BatchDrawAction)
	require.Len(t, sent.Elements, 1)
	assert.Equal(t, "r2", sent.Elements[0].ID)

	// all duplicates: silence
	err = e.CreateElements([]model.Element{rect("r2", 60, 0)})
	require.NoError(t, err)
	assert.Len(t, rec.ofType(protocol.TypeBatchDrawAction), 1)
}

func TestMoveShiftsEveryCoordinate(t *testing.T) {
	e, rec := newTestEngine(t)

	freehand := model.Element{
		ID:         "d1",
		Type:       model.ElementDraw,
		StartPoint: model.Point{X: 1, Y: 1},
		Points:     []model.Point{{X: 1, Y: 1}, {X: 5, Y: 9}},
	}
	_, err := e.CreateElement(freehand)
	require.NoError(t, err)

	require.NoError(t, e.MoveElement("d1", 10, -2))

	els := e.Elements()
	require.Len(t, els, 1)
	assert.Equal(t, 11.0, els[0].StartPoint.X)
	assert.Equal(t, -1.0, els[0].StartPoint.Y)
	assert.Equal(t, 15.0, els[0].Points[1].X)
	assert.Equal(t, 7.0, els[0].Points[1].Y)

	assert.Len(t, rec.ofType(protocol.TypeElementUpdate), 1)
	assert.ErrorIs(t, e.MoveElement("ghost", 1, 1), ErrUnknownElement)
}

func TestLockedElementsRefuseMoveAndDelete(t *testing.T) {
	e, rec := newTestEngine(t)

	locked := rect("frame", 0, 0)
	locked.Locked = true
	_, err := e.CreateElement(locked)
	require.NoError(t, err)

	assert.ErrorIs(t, e.MoveElement("frame", 5, 5), ErrElementLocked)
	assert.ErrorIs(t, e.DeleteElement("frame"), ErrElementLocked)
	assert.Len(t, e.Elements(), 1)
	assert.Empty(t, rec.ofType(protocol.TypeElementUpdate))
	assert.Empty(t, rec.ofType(protocol.TypeElementDelete))
}

func TestUndoRedoReEmitsDiff(t *testing.T) {
	e, rec := newTestEngine(t)

	_, err := e.CreateElement(rect("r1", 0, 0))
	require.NoError(t, err)
	_, err = e.CreateElement(rect("r2", 60, 0))
	require.NoError(t, err)
	require.NoError(t, e.MoveElement("r2", 10, 0))

	// undo the move: observers get an element_update back to the old spot
	require.True(t, e.Undo())
	updates := rec.ofType(protocol.TypeElementUpdate)
	require.Len(t, updates, 2)
	back := updates[1].(protocol.ElementUpdate).Element
	assert.Equal(t, 60.0, back.StartPoint.X)

	// undo the create: observers get an element_delete
	require.True(t, e.Undo())
	dels := rec.ofType(protocol.TypeElementDelete)
	require.Len(t, dels, 1)
	assert.Equal(t, "r2", dels[0].(protocol.ElementDelete).ElementID)
	assert.Len(t, e.Elements(), 1)

	// redo re-creates it as an ordinary draw_action
	require.True(t, e.Redo())
	draws := rec.ofType(protocol.TypeDrawAction)
	require.Len(t, draws, 3)
	assert.Equal(t, "r2", draws[2].(protocol.DrawAction).Element.ID)
	assert.Len(t, e.Elements(), 2)

	// a fresh local mutation discards the redo branch
	require.True(t, e.Undo())
	_, err = e.CreateElement(rect("r3", 120, 0))
	require.NoError(t, err)
	assert.False(t, e.CanRedo())
}

func TestUndoAtBottomAndRedoAtTopAreNoOps(t *testing.T) {
	e, rec := newTestEngine(t)
	assert.False(t, e.Undo())
	assert.False(t, e.Redo())
	assert.Empty(t, rec.msgs)
}

func TestClearWipesAndUndoRestores(t *testing.T) {
	e, rec := newTestEngine(t)

	_, err := e.CreateElement(rect("r1", 0, 0))
	require.NoError(t, err)
	e.Clear()
	assert.Empty(t, e.Elements())
	assert.Len(t, rec.ofType(protocol.TypeClearBoard), 1)

	require.True(t, e.Undo())
	assert.Len(t, e.Elements(), 1)
	// the restore goes out as a draw_action, not a special frame
	assert.Len(t, rec.ofType(protocol.TypeDrawAction), 2)
}

func TestRemoteClearAppendsActivity(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyEvent(&protocol.ElementCreated{Type: protocol.TypeDrawAction, ClientID: "other", Element: rect("r1", 0, 0)})

	e.ApplyEvent(&protocol.BoardCleared{
		Type:     protocol.TypeClearBoard,
		ClientID: "other",
		Activity: model.Activity{ID: "a1", Username: "bob", Action: "cleared the board"},
	})

	assert.Empty(t, e.Elements())
	acts := e.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, "cleared the board", acts[0].Action)
}

func TestCommentsAndReactionsMergeByElementID(t *testing.T) {
	e, rec := newTestEngine(t)
	_, err := e.CreateElement(rect("r1", 0, 0))
	require.NoError(t, err)

	require.NoError(t, e.AddComment("r1", "nice"))
	require.NoError(t, e.AddReaction("r1", "🔥"))
	require.NoError(t, e.AddReaction("r1", "🔥"))

	els := e.Elements()
	require.Len(t, els[0].Comments, 1)
	require.Len(t, els[0].Reactions, 2, "repeat reactions accumulate")
	assert.Len(t, rec.ofType(protocol.TypeAddReaction), 2)

	// remote ones for a missing element are dropped, not queued
	e.ApplyEvent(&protocol.CommentAdded{Type: protocol.TypeAddComment, ElementID: "ghost", Comment: model.Comment{Text: "?"}})
	assert.Len(t, e.Elements()[0].Comments, 1)

	assert.ErrorIs(t, e.AddComment("ghost", "x"), ErrUnknownElement)
}

func TestCursorMoveIsThrottled(t *testing.T) {
	e, rec := newTestEngine(t)

	base := time.Now()
	clock := base
	e.now = func() time.Time { return clock }

	assert.True(t, e.CursorMove(1, 1))
	clock = base.Add(20 * time.Millisecond)
	assert.False(t, e.CursorMove(2, 2), "a second move inside the window is dropped")
	clock = base.Add(60 * time.Millisecond)
	assert.True(t, e.CursorMove(3, 3))

	moves := rec.ofType(protocol.TypeCursorMove)
	require.Len(t, moves, 2)
	assert.Equal(t, 3.0, moves[1].(protocol.CursorMove).X)
}

func TestPresenceLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	e.ApplyEvent(&protocol.UserJoined{
		Type:     protocol.TypeUserJoined,
		Presence: model.Presence{ClientID: "other", Username: "bob"},
		Activity: model.Activity{ID: "a1", Action: "joined the board"},
	})
	assert.Contains(t, e.RemoteCursors(), "other")
	assert.Len(t, e.Activities(), 1)

	e.ApplyEvent(&protocol.PresenceUpdate{
		Type:     protocol.TypePresenceUpdate,
		Presence: model.Presence{ClientID: "other", Cursor: model.Point{X: 9, Y: 9}},
	})
	assert.Equal(t, 9.0, e.RemoteCursors()["other"].Cursor.X)

	// an echo of our own presence is ignored
	e.ApplyEvent(&protocol.PresenceUpdate{
		Type:     protocol.TypePresenceUpdate,
		Presence: model.Presence{ClientID: "me"},
	})
	assert.NotContains(t, e.RemoteCursors(), "me")

	e.ApplyEvent(&protocol.UserLeft{
		Type:     protocol.TypeUserLeft,
		ClientID: "other",
		Activity: model.Activity{ID: "a2", Action: "left the board"},
	})
	assert.NotContains(t, e.RemoteCursors(), "other")
	assert.Len(t, e.Activities(), 2)
}

func TestMediaMembershipAndSignals(t *testing.T) {
	e, rec := newTestEngine(t)

	e.JoinVoice()
	assert.Len(t, rec.ofType(protocol.TypeJoinVoice), 1)

	e.ApplyEvent(&protocol.MediaMembershipChanged{Type: protocol.TypeJoinVoice, ClientID: "other"})
	assert.Equal(t, []string{"other"}, e.VoiceMembers())

	var gotPlane, gotFrom string
	e.OnSignal = func(plane, fromID string, _ json.RawMessage) {
		gotPlane, gotFrom = plane, fromID
	}
	e.ApplyEvent(&protocol.SignalDelivery{Type: protocol.TypeVoiceSignal, FromID: "other", Signal: json.RawMessage(`{}`)})
	assert.Equal(t, "voice", gotPlane)
	assert.Equal(t, "other", gotFrom)

	e.ApplyEvent(&protocol.MediaMembershipChanged{Type: protocol.TypeLeaveVoice, ClientID: "other"})
	assert.Empty(t, e.VoiceMembers())

	e.LeaveVoice()
	assert.Len(t, rec.ofType(protocol.TypeLeaveVoice), 1)
}

func TestTypingCallback(t *testing.T) {
	e, rec := newTestEngine(t)

	var got string
	e.OnTyping = func(_, username string) { got = username }
	e.ApplyEvent(&protocol.Typing{Type: protocol.TypeTypingStart, ClientID: "other", Username: "bob"})
	assert.Equal(t, "bob", got)

	e.Typing()
	assert.Len(t, rec.ofType(protocol.TypeTypingStart), 1)
}

func TestChatAppendsLocallyAndRemotely(t *testing.T) {
	e, rec := newTestEngine(t)

	e.SendChat("hello")
	e.SendChat("")
	require.Len(t, e.Chat(), 1)
	assert.Equal(t, "me", e.Chat()[0].ClientID)
	assert.Len(t, rec.ofType(protocol.TypeChatMessage), 1)

	e.ApplyEvent(&protocol.ChatPosted{
		Type:    protocol.TypeChatMessage,
		Message: model.ChatMessage{ID: "m2", ClientID: "other", Text: "hey"},
	})
	assert.Len(t, e.Chat(), 2)
}

func TestApplyRejectsBadFrames(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Error(t, e.Apply([]byte(`not json`)))
	assert.Error(t, e.Apply([]byte(`{"type":"warp"}`)))
	require.NoError(t, e.Apply([]byte(`{"type":"draw_action","clientId":"other","element":{"id":"r1","type":"circle","startPoint":{"x":0,"y":0}}}`)))
	assert.Len(t, e.Elements(), 1)
}
