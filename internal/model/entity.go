package model

import (
	"time"
)

// User account row. Identity issuance lives elsewhere; this service only
// resolves display identity (nickname, avatar) for a validated user id.
type User struct {
	ID         int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Email      string  `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname   string  `gorm:"type:varchar(100);not null" json:"nickname"`
	ProfileImg *string `gorm:"type:text" json:"profile_img,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Board metadata. Code is the room identifier clients connect with; the
// free-text Description drives the bootstrap template heuristic.
type Board struct {
	ID          int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string  `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Name        string  `gorm:"type:varchar(200);not null" json:"name"`
	Description *string `gorm:"type:text" json:"description,omitempty"`
	OwnerID     int64   `gorm:"not null" json:"owner_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Owner   User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Invites []BoardInvite `gorm:"foreignKey:BoardID" json:"invites,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// InviteStatus of a board invitation
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "PENDING"
	InviteStatusAccepted InviteStatus = "ACCEPTED"
	InviteStatusDeclined InviteStatus = "DECLINED"
)

func (s InviteStatus) String() string {
	return string(s)
}

// BoardInvite is an email invitation to a board
type BoardInvite struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID   int64        `gorm:"not null;index" json:"board_id"`
	Email     string       `gorm:"type:varchar(255);not null" json:"email"`
	InvitedBy int64        `gorm:"not null" json:"invited_by"`
	Status    InviteStatus `gorm:"type:varchar(20);default:'PENDING'" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
}

func (BoardInvite) TableName() string {
	return "board_invites"
}
