package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// FriendshipRepository reads the friendship table, which is owned elsewhere.
type FriendshipRepository interface {
	AreFriends(ctx context.Context, a, b int) (bool, error)
	ListFriendIDs(ctx context.Context, userID int) ([]int, error)
}

// AccountRepository answers whether an account id exists.
type AccountRepository interface {
	Exists(ctx context.Context, userID int) (bool, error)
}

type FriendshipRepo struct {
	db *sqlx.DB
}

func NewFriendshipRepo(db *sqlx.DB) *FriendshipRepo {
	return &FriendshipRepo{db: db}
}

// AreFriends reports an accepted friendship in either direction.
func (r *FriendshipRepo) AreFriends(ctx context.Context, a, b int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(
        SELECT 1 FROM friendships
        WHERE status=$3 AND ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)))`,
		a, b, models.FriendshipAccepted)
	return exists, err
}

// ListFriendIDs returns the ids on the other side of every accepted friendship.
func (r *FriendshipRepo) ListFriendIDs(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT CASE WHEN sender_id=$1 THEN receiver_id ELSE sender_id END AS friend_id
        FROM friendships
        WHERE status=$2 AND (sender_id=$1 OR receiver_id=$1)
        ORDER BY friend_id`, userID, models.FriendshipAccepted)
	return ids, err
}

type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Exists(ctx context.Context, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID)
	return exists, err
}

// MembershipSnapshot supplies friend and group id sets for session refreshes.
type MembershipSnapshot struct {
	friends FriendshipRepository
	groups  GroupRepository
}

func NewMembershipSnapshot(friends FriendshipRepository, groups GroupRepository) *MembershipSnapshot {
	return &MembershipSnapshot{friends: friends, groups: groups}
}

func (s *MembershipSnapshot) FriendIDs(ctx context.Context, userID int) ([]int, error) {
	return s.friends.ListFriendIDs(ctx, userID)
}

func (s *MembershipSnapshot) GroupIDs(ctx context.Context, userID int) ([]int, error) {
	return s.groups.ListGroupIDsForUser(ctx, userID)
}
