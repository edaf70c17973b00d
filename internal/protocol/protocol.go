// Package protocol defines the wire messages of the board sync channel.
// Every inbound frame is a flat tagged record {type, ...payload}; decoding
// turns it into one of a closed set of typed messages before any handler
// sees it. Unknown tags are a distinct error handled by drop-and-log.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"boardsync/internal/model"
)

// Client-to-server message types
const (
	TypeDrawAction      = "draw_action"
	TypeBatchDrawAction = "batch_draw_action"
	TypeElementUpdate   = "element_update"
	TypeElementDelete   = "element_delete"
	TypeClearBoard      = "clear_board"
	TypeCursorMove      = "cursor_move"
	TypeAddComment      = "add_comment"
	TypeAddReaction     = "add_reaction"
	TypeChatMessage     = "chat_message"
	TypeTypingStart     = "typing_start"
	TypeJoinVoice       = "join_voice"
	TypeLeaveVoice      = "leave_voice"
	TypeJoinVideo       = "join_video"
	TypeLeaveVideo      = "leave_video"
	TypeVoiceSignal     = "voice_signal"
	TypeVideoSignal     = "video_signal"
)

// Server-to-client message types. Activity records ride inside the
// user_joined / user_left / clear_board frames rather than a separate one.
const (
	TypeConnectionEstablished = "connection_established"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypePresenceUpdate        = "presence_update"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message payload")
)

// Message is one decoded inbound frame
type Message interface {
	MessageType() string
}

// DrawAction appends one element if its id is not already present
type DrawAction struct {
	Type    string        `json:"type"`
	Element model.Element `json:"element"`
}

func (DrawAction) MessageType() string { return TypeDrawAction }

// BatchDrawAction appends every element whose id is not already present
type BatchDrawAction struct {
	Type     string          `json:"type"`
	Elements []model.Element `json:"elements"`
}

func (BatchDrawAction) MessageType() string { return TypeBatchDrawAction }

// ElementUpdate replaces the element with the matching id wholesale
type ElementUpdate struct {
	Type    string        `json:"type"`
	Element model.Element `json:"element"`
}

func (ElementUpdate) MessageType() string { return TypeElementUpdate }

// ElementDelete removes the element with the matching id
type ElementDelete struct {
	Type      string `json:"type"`
	ElementID string `json:"elementId"`
}

func (ElementDelete) MessageType() string { return TypeElementDelete }

// ClearBoard empties the element list
type ClearBoard struct {
	Type string `json:"type"`
}

func (ClearBoard) MessageType() string { return TypeClearBoard }

// CursorMove updates the sender's cursor position
type CursorMove struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (CursorMove) MessageType() string { return TypeCursorMove }

// AddComment appends a comment to the target element
type AddComment struct {
	Type      string `json:"type"`
	ElementID string `json:"elementId"`
	Text      string `json:"text"`
}

func (AddComment) MessageType() string { return TypeAddComment }

// AddReaction appends a reaction to the target element
type AddReaction struct {
	Type      string `json:"type"`
	ElementID string `json:"elementId"`
	Emoji     string `json:"emoji"`
}

func (AddReaction) MessageType() string { return TypeAddReaction }

// ChatMessage appends to the room chat log
type ChatMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (ChatMessage) MessageType() string { return TypeChatMessage }

// TypingStart is a transient signal, never persisted
type TypingStart struct {
	Type string `json:"type"`
}

func (TypingStart) MessageType() string { return TypeTypingStart }

// MediaMembership mutates a voice or video membership set
type MediaMembership struct {
	Type string `json:"type"`
}

func (m MediaMembership) MessageType() string { return m.Type }

// Signal carries an opaque WebRTC payload to one target client. It is
// relayed verbatim and never broadcast.
type Signal struct {
	Type     string          `json:"type"`
	TargetID string          `json:"targetId"`
	Signal   json.RawMessage `json:"signal"`
}

func (s Signal) MessageType() string { return s.Type }

// Plane reports which media mesh a signal belongs to
func (s Signal) Plane() string {
	if s.Type == TypeVoiceSignal {
		return "voice"
	}
	return "video"
}

// Decode parses one inbound frame into its typed message. Frames that do
// not parse return ErrMalformed; recognized types with unusable payloads
// return ErrInvalid; anything else returns ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, ErrMalformed
	}

	switch head.Type {
	case TypeDrawAction:
		var m DrawAction
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.Element.ID == "" || !model.ValidElementType(m.Element.Type) {
			return nil, ErrInvalid
		}
		return m, nil

	case TypeBatchDrawAction:
		var m BatchDrawAction
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		for _, el := range m.Elements {
			if el.ID == "" || !model.ValidElementType(el.Type) {
				return nil, ErrInvalid
			}
		}
		return m, nil

	case TypeElementUpdate:
		var m ElementUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.Element.ID == "" {
			return nil, ErrInvalid
		}
		return m, nil

	case TypeElementDelete:
		var m ElementDelete
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.ElementID == "" {
			return nil, ErrInvalid
		}
		return m, nil

	case TypeClearBoard:
		return ClearBoard{Type: head.Type}, nil

	case TypeCursorMove:
		var m CursorMove
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		return m, nil

	case TypeAddComment:
		var m AddComment
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.ElementID == "" || m.Text == "" {
			return nil, ErrInvalid
		}
		return m, nil

	case TypeAddReaction:
		var m AddReaction
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.ElementID == "" || m.Emoji == "" {
			return nil, ErrInvalid
		}
		return m, nil

	case TypeChatMessage:
		var m ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.Text == "" {
			return nil, ErrInvalid
		}
		return m, nil

	case TypeTypingStart:
		return TypingStart{Type: head.Type}, nil

	case TypeJoinVoice, TypeLeaveVoice, TypeJoinVideo, TypeLeaveVideo:
		return MediaMembership{Type: head.Type}, nil

	case TypeVoiceSignal, TypeVideoSignal:
		var m Signal
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformed
		}
		if m.TargetID == "" {
			return nil, ErrInvalid
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
}
