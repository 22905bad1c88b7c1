package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, sender_id, receiver_id, content, status, is_deleted, created_at, updated_at, read_at`

// MessageRepository defines persistence for direct messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID int, content string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListConversation(ctx context.Context, userID, peerID, skip, limit int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, messageID int) (models.Message, error)
	MarkRead(ctx context.Context, messageID int) (models.Message, bool, error)
	MarkConversationRead(ctx context.Context, readerID, peerID int) (int64, error)
	SoftDelete(ctx context.Context, messageID, senderID int) error
	CountUnread(ctx context.Context, receiverID, peerID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a direct message with status sent.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, content, status) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		senderID, receiverID, content, models.StatusSent).StructScan(&msg)
	return msg, err
}

// GetMessage retrieves a single message, including soft-deleted rows.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListConversation returns one page of the conversation between two accounts,
// selected newest first and returned oldest first. Deleted rows are skipped.
func (r *MessageRepo) ListConversation(ctx context.Context, userID, peerID, skip, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE is_deleted = FALSE
        AND ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        ORDER BY created_at DESC, id DESC
        LIMIT $3 OFFSET $4`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, userID, peerID, limit, skip); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkDelivered moves a sent message to delivered. Rows already past sent are
// returned unchanged.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3 RETURNING `+messageColumns,
		messageID, models.StatusDelivered, models.StatusSent).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetMessage(ctx, messageID)
	}
	return msg, err
}

// MarkRead moves a message to read and stamps read_at. The bool reports whether
// this call performed the transition.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET status=$2, read_at=COALESCE(read_at, NOW()), updated_at=NOW() WHERE id=$1 AND status<>$2 RETURNING `+messageColumns,
		messageID, models.StatusRead).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.GetMessage(ctx, messageID)
		return current, false, getErr
	}
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, true, nil
}

// MarkConversationRead marks every unread message from peerID to readerID as read.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, readerID, peerID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$3, read_at=COALESCE(read_at, NOW()), updated_at=NOW()
        WHERE receiver_id=$1 AND sender_id=$2 AND status<>$3 AND is_deleted = FALSE`, readerID, peerID, models.StatusRead)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SoftDelete flags a message deleted. Only the sender's rows match.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, senderID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE, updated_at=NOW() WHERE id=$1 AND sender_id=$2`, messageID, senderID)
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

// CountUnread counts unread messages addressed to receiverID. A zero peerID
// counts across every conversation.
func (r *MessageRepo) CountUnread(ctx context.Context, receiverID, peerID int) (int, error) {
	var count int
	var err error
	if peerID == 0 {
		err = r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND status<>$2 AND is_deleted = FALSE`, receiverID, models.StatusRead)
	} else {
		err = r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND sender_id=$2 AND status<>$3 AND is_deleted = FALSE`, receiverID, peerID, models.StatusRead)
	}
	return count, err
}
