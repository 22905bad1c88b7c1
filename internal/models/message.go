package models

import "time"

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Statuses only move sent -> delivered -> read; staying put is not an advance.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.rank() > 0 && next.rank() > s.rank()
}

// Message is a direct message between two friends.
type Message struct {
	ID         int           `db:"id" json:"id"`
	SenderID   int           `db:"sender_id" json:"sender_id"`
	ReceiverID int           `db:"receiver_id" json:"receiver_id"`
	Content    string        `db:"content" json:"content"`
	Status     MessageStatus `db:"status" json:"status"`
	IsDeleted  bool          `db:"is_deleted" json:"is_deleted"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
	ReadAt     *time.Time    `db:"read_at" json:"read_at,omitempty"`
}

// FriendshipStatus is the state of a friend request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)
