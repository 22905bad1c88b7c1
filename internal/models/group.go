package models

import "time"

// Group represents a chat group.
type Group struct {
	ID         int       `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	OwnerID    int       `db:"owner_id" json:"owner_id"`
	MaxMembers int       `db:"max_members" json:"max_members"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// GroupRole is a member's role inside a group.
type GroupRole string

const (
	RoleLeader    GroupRole = "leader"
	RoleModerator GroupRole = "moderator"
	RoleMember    GroupRole = "member"
)

// GroupMember links an account to a group.
type GroupMember struct {
	GroupID  int       `db:"group_id" json:"group_id"`
	UserID   int       `db:"user_id" json:"user_id"`
	Role     GroupRole `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// GroupMessage represents a message sent in a group. Status is a coarse flag;
// per-member read progress lives in GroupReadState.
type GroupMessage struct {
	ID        int           `db:"id" json:"id"`
	GroupID   int           `db:"group_id" json:"group_id"`
	SenderID  int           `db:"sender_id" json:"sender_id"`
	Content   string        `db:"content" json:"content"`
	Status    MessageStatus `db:"status" json:"status"`
	IsDeleted bool          `db:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// GroupReadState tracks per-member read progress in a group.
// LastReadMessageID only ever grows.
type GroupReadState struct {
	GroupID           int       `db:"group_id" json:"group_id"`
	UserID            int       `db:"user_id" json:"user_id"`
	LastReadMessageID int       `db:"last_read_message_id" json:"last_read_message_id"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
