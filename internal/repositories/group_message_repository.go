package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const groupMessageColumns = `id, group_id, sender_id, content, status, is_deleted, created_at, updated_at`

// GroupMessageRepository defines interactions for group messages.
type GroupMessageRepository interface {
	CreateGroupMessage(ctx context.Context, groupID, senderID int, content string) (models.GroupMessage, error)
	GetGroupMessage(ctx context.Context, messageID int) (models.GroupMessage, error)
	ListGroupMessages(ctx context.Context, groupID, skip, limit int) ([]models.GroupMessage, error)
	SoftDelete(ctx context.Context, messageID, senderID int) error
	CountAfter(ctx context.Context, groupID, afterID, excludeSender int) (int, error)
}

// GroupMessageRepo is a sqlx-backed implementation.
type GroupMessageRepo struct {
	db *sqlx.DB
}

// NewGroupMessageRepo constructs a GroupMessageRepo.
func NewGroupMessageRepo(db *sqlx.DB) *GroupMessageRepo {
	return &GroupMessageRepo{db: db}
}

// CreateGroupMessage persists a group message with status sent.
func (r *GroupMessageRepo) CreateGroupMessage(ctx context.Context, groupID, senderID int, content string) (models.GroupMessage, error) {
	var msg models.GroupMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO group_messages (group_id, sender_id, content, status) VALUES ($1, $2, $3, $4) RETURNING `+groupMessageColumns,
		groupID, senderID, content, models.StatusSent).StructScan(&msg)
	return msg, err
}

// GetGroupMessage fetches a single message, including soft-deleted rows.
func (r *GroupMessageRepo) GetGroupMessage(ctx context.Context, messageID int) (models.GroupMessage, error) {
	var msg models.GroupMessage
	err := r.db.GetContext(ctx, &msg, `SELECT `+groupMessageColumns+` FROM group_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupMessage{}, ErrMessageNotFound
	}
	return msg, err
}

// ListGroupMessages returns one page newest first from the store, reordered oldest first.
func (r *GroupMessageRepo) ListGroupMessages(ctx context.Context, groupID, skip, limit int) ([]models.GroupMessage, error) {
	var msgs []models.GroupMessage
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+groupMessageColumns+` FROM group_messages
        WHERE group_id=$1 AND is_deleted = FALSE
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`, groupID, limit, skip)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SoftDelete marks a message deleted (sender only).
func (r *GroupMessageRepo) SoftDelete(ctx context.Context, messageID, senderID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE group_messages SET is_deleted = TRUE, updated_at=NOW() WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CountAfter counts visible messages in a group with id greater than afterID,
// ignoring the member's own messages.
func (r *GroupMessageRepo) CountAfter(ctx context.Context, groupID, afterID, excludeSender int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM group_messages WHERE group_id=$1 AND id>$2 AND sender_id<>$3 AND is_deleted = FALSE`,
		groupID, afterID, excludeSender)
	return count, err
}
