package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

// GroupRepository abstracts group lookups and per-member read progress.
type GroupRepository interface {
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	IsMember(ctx context.Context, groupID, userID int) (bool, error)
	ListGroupIDsForUser(ctx context.Context, userID int) ([]int, error)
	GetReadState(ctx context.Context, groupID, userID int) (models.GroupReadState, error)
	AdvanceReadState(ctx context.Context, groupID, userID, messageID int) (models.GroupReadState, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT id, name, owner_id, max_members, created_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID)
	return exists, err
}

// ListGroupIDsForUser returns the ids of groups that include the user.
func (r *GroupRepo) ListGroupIDsForUser(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT group_id FROM group_members WHERE user_id=$1 ORDER BY group_id`, userID)
	return ids, err
}

// GetReadState returns the member's read progress; a missing row means nothing read yet.
func (r *GroupRepo) GetReadState(ctx context.Context, groupID, userID int) (models.GroupReadState, error) {
	var state models.GroupReadState
	err := r.db.GetContext(ctx, &state, `SELECT group_id, user_id, last_read_message_id, updated_at FROM group_read_states WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupReadState{GroupID: groupID, UserID: userID}, nil
	}
	return state, err
}

// AdvanceReadState records messageID as read; the stored position never moves backwards.
func (r *GroupRepo) AdvanceReadState(ctx context.Context, groupID, userID, messageID int) (models.GroupReadState, error) {
	var state models.GroupReadState
	err := r.db.QueryRowxContext(ctx, `INSERT INTO group_read_states (group_id, user_id, last_read_message_id) VALUES ($1, $2, $3)
        ON CONFLICT (group_id, user_id) DO UPDATE
        SET last_read_message_id = GREATEST(group_read_states.last_read_message_id, EXCLUDED.last_read_message_id), updated_at = NOW()
        RETURNING group_id, user_id, last_read_message_id, updated_at`, groupID, userID, messageID).StructScan(&state)
	return state, err
}
