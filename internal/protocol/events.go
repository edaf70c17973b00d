package protocol

import (
	"encoding/json"
	"fmt"

	"boardsync/internal/model"
)

// ServerEvent is one decoded server-to-client frame
type ServerEvent interface {
	EventType() string
}

// UserInfo is the resolved identity sent back to a joining client
type UserInfo struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// ConnectionEstablished bootstraps a newly admitted client: its assigned
// client id, identity, and the room's current state. Presence holds all
// other currently connected clients, never the recipient itself.
type ConnectionEstablished struct {
	Type       string              `json:"type"`
	ClientID   string              `json:"clientId"`
	User       UserInfo            `json:"user"`
	History    []model.Element     `json:"history"`
	Chat       []model.ChatMessage `json:"chatMessages"`
	Activities []model.Activity    `json:"activities"`
	Presence   []model.Presence    `json:"presence"`
	VoiceIDs   []string            `json:"voiceMembers,omitempty"`
	VideoIDs   []string            `json:"videoMembers,omitempty"`
}

func (ConnectionEstablished) EventType() string { return TypeConnectionEstablished }

// UserJoined announces a new room member to everyone else
type UserJoined struct {
	Type     string         `json:"type"`
	Presence model.Presence `json:"presence"`
	Activity model.Activity `json:"activity"`
}

func (UserJoined) EventType() string { return TypeUserJoined }

// UserLeft announces a departed room member
type UserLeft struct {
	Type     string         `json:"type"`
	ClientID string         `json:"clientId"`
	Activity model.Activity `json:"activity"`
}

func (UserLeft) EventType() string { return TypeUserLeft }

// PresenceUpdate carries a member's refreshed presence (cursor moves)
type PresenceUpdate struct {
	Type     string         `json:"type"`
	Presence model.Presence `json:"presence"`
}

func (PresenceUpdate) EventType() string { return TypePresenceUpdate }

// ElementCreated fans out a created element
type ElementCreated struct {
	Type     string        `json:"type"`
	ClientID string        `json:"clientId"`
	Element  model.Element `json:"element"`
}

func (ElementCreated) EventType() string { return TypeDrawAction }

// ElementsCreated fans out a batch create
type ElementsCreated struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	Elements []model.Element `json:"elements"`
}

func (ElementsCreated) EventType() string { return TypeBatchDrawAction }

// ElementReplaced fans out a wholesale element replacement
type ElementReplaced struct {
	Type     string        `json:"type"`
	ClientID string        `json:"clientId"`
	Element  model.Element `json:"element"`
}

func (ElementReplaced) EventType() string { return TypeElementUpdate }

// ElementRemoved fans out an element removal
type ElementRemoved struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId"`
	ElementID string `json:"elementId"`
}

func (ElementRemoved) EventType() string { return TypeElementDelete }

// BoardCleared fans out a full wipe. The activity record rides along so
// observers' feeds stay consistent without a second frame.
type BoardCleared struct {
	Type     string         `json:"type"`
	ClientID string         `json:"clientId"`
	Activity model.Activity `json:"activity"`
}

func (BoardCleared) EventType() string { return TypeClearBoard }

// CommentAdded fans out an appended comment
type CommentAdded struct {
	Type      string        `json:"type"`
	ClientID  string        `json:"clientId"`
	ElementID string        `json:"elementId"`
	Comment   model.Comment `json:"comment"`
}

func (CommentAdded) EventType() string { return TypeAddComment }

// ReactionAdded fans out an appended reaction
type ReactionAdded struct {
	Type      string         `json:"type"`
	ClientID  string         `json:"clientId"`
	ElementID string         `json:"elementId"`
	Reaction  model.Reaction `json:"reaction"`
}

func (ReactionAdded) EventType() string { return TypeAddReaction }

// ChatPosted fans out an appended chat message
type ChatPosted struct {
	Type    string            `json:"type"`
	Message model.ChatMessage `json:"message"`
}

func (ChatPosted) EventType() string { return TypeChatMessage }

// Typing fans out a transient typing signal
type Typing struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
}

func (Typing) EventType() string { return TypeTypingStart }

// MediaMembershipChanged fans out a voice/video membership mutation so
// peers can initiate or tear down connections
type MediaMembershipChanged struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

func (m MediaMembershipChanged) EventType() string { return m.Type }

// SignalDelivery is a relayed WebRTC payload, delivered only to its target
type SignalDelivery struct {
	Type   string          `json:"type"`
	FromID string          `json:"fromId"`
	Signal json.RawMessage `json:"signal"`
}

func (s SignalDelivery) EventType() string { return s.Type }

// DecodeServerEvent parses one server-to-client frame. The reconciliation
// engine feeds every received frame through here before merging.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, ErrMalformed
	}

	decode := func(v ServerEvent) (ServerEvent, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, ErrMalformed
		}
		return v, nil
	}

	switch head.Type {
	case TypeConnectionEstablished:
		var e ConnectionEstablished
		return decode(&e)
	case TypeUserJoined:
		var e UserJoined
		return decode(&e)
	case TypeUserLeft:
		var e UserLeft
		return decode(&e)
	case TypePresenceUpdate:
		var e PresenceUpdate
		return decode(&e)
	case TypeDrawAction:
		var e ElementCreated
		return decode(&e)
	case TypeBatchDrawAction:
		var e ElementsCreated
		return decode(&e)
	case TypeElementUpdate:
		var e ElementReplaced
		return decode(&e)
	case TypeElementDelete:
		var e ElementRemoved
		return decode(&e)
	case TypeClearBoard:
		var e BoardCleared
		return decode(&e)
	case TypeAddComment:
		var e CommentAdded
		return decode(&e)
	case TypeAddReaction:
		var e ReactionAdded
		return decode(&e)
	case TypeChatMessage:
		var e ChatPosted
		return decode(&e)
	case TypeTypingStart:
		var e Typing
		return decode(&e)
	case TypeJoinVoice, TypeLeaveVoice, TypeJoinVideo, TypeLeaveVideo:
		var e MediaMembershipChanged
		return decode(&e)
	case TypeVoiceSignal, TypeVideoSignal:
		var e SignalDelivery
		return decode(&e)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
}
