package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ElementType identifies a drawable element kind
type ElementType string

const (
	ElementRectangle  ElementType = "rectangle"
	ElementCircle     ElementType = "circle"
	ElementLine       ElementType = "line"
	ElementArrow      ElementType = "arrow"
	ElementDraw       ElementType = "freehand-draw"
	ElementText       ElementType = "text"
	ElementStickyNote ElementType = "sticky-note"
)

// ValidElementType reports whether t is a known element kind
func ValidElementType(t ElementType) bool {
	switch t {
	case ElementRectangle, ElementCircle, ElementLine, ElementArrow,
		ElementDraw, ElementText, ElementStickyNote:
		return true
	}
	return false
}

// Point is a position in board coordinate space (zoom/pan independent)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Comment attached to an element, append-only
type Comment struct {
	ID        string `json:"id"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar,omitempty"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// Reaction attached to an element, append-only.
// Not deduplicated by (user, emoji): repeated reactions accumulate.
type Reaction struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji"`
	CreatedAt int64  `json:"createdAt"`
}

// Element is a single drawable unit on a board. The id is immutable and is
// the sole join key for update/delete/comment/reaction targeting.
type Element struct {
	ID          string      `json:"id"`
	Type        ElementType `json:"type"`
	StartPoint  Point       `json:"startPoint"`
	EndPoint    *Point      `json:"endPoint,omitempty"`
	Points      []Point     `json:"points,omitempty"` // freehand draw only
	Color       string      `json:"color,omitempty"`
	FillColor   string      `json:"fillColor,omitempty"`
	StrokeWidth float64     `json:"strokeWidth,omitempty"`
	Opacity     float64     `json:"opacity,omitempty"`
	Text        string      `json:"text,omitempty"`
	Locked      bool        `json:"locked,omitempty"`
	Comments    []Comment   `json:"comments,omitempty"`
	Reactions   []Reaction  `json:"reactions,omitempty"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   int64       `json:"createdAt,omitempty"`
}

// Clone returns a deep copy of the element
func (e Element) Clone() Element {
	out := e
	if e.EndPoint != nil {
		p := *e.EndPoint
		out.EndPoint = &p
	}
	if e.Points != nil {
		out.Points = append([]Point(nil), e.Points...)
	}
	if e.Comments != nil {
		out.Comments = append([]Comment(nil), e.Comments...)
	}
	if e.Reactions != nil {
		out.Reactions = append([]Reaction(nil), e.Reactions...)
	}
	return out
}

// CloneElements deep-copies a full element slice
func CloneElements(els []Element) []Element {
	if els == nil {
		return nil
	}
	out := make([]Element, len(els))
	for i, e := range els {
		out[i] = e.Clone()
	}
	return out
}

// NewElementID generates a collision-resistant element id without
// coordination between clients (millisecond timestamp + random suffix)
func NewElementID() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("el-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// ChatMessage is one entry of a room's chat log
type ChatMessage struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar,omitempty"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// Activity is one entry of a room's activity feed
type Activity struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	CreatedAt int64  `json:"createdAt"`
}

// ActivityLimit caps the retained activity feed, server and client side
const ActivityLimit = 50

// Presence is the ephemeral live state of one connected client. It is
// rebuilt on reconnect and never persisted.
type Presence struct {
	ClientID string `json:"clientId"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Color    string `json:"color"`
	Status   string `json:"status,omitempty"`
	Role     string `json:"role,omitempty"`
	Cursor   Point  `json:"cursor"`
}

// cursorPalette assigns a stable per-client cursor color
var cursorPalette = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12",
	"#9b59b6", "#1abc9c", "#e67e22", "#34495e",
}

// CursorColor picks a palette color for a client id
func CursorColor(clientID string) string {
	var sum int
	for _, c := range clientID {
		sum += int(c)
	}
	return cursorPalette[sum%len(cursorPalette)]
}
