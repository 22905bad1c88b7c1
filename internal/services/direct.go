package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"messaging-service/internal/errs"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

var tracer = otel.Tracer("messaging-service/services")

// Broadcaster pushes events to live connections.
type Broadcaster interface {
	IsOnline(userID int) bool
	ToOne(userID int, event any) bool
	ToGroup(groupID int, event any, exclude int) int
	GroupMembersOnline(groupID int) []int
	OnlineAmong(ids []int) []int
}

// Limits bounds content and pagination.
type Limits struct {
	MaxContentLength    int
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

func (l Limits) withDefaults() Limits {
	if l.MaxContentLength <= 0 {
		l.MaxContentLength = 4000
	}
	if l.HistoryMaxLimit <= 0 {
		l.HistoryMaxLimit = 100
	}
	if l.HistoryDefaultLimit <= 0 || l.HistoryDefaultLimit > l.HistoryMaxLimit {
		l.HistoryDefaultLimit = min(50, l.HistoryMaxLimit)
	}
	return l
}

// Page is a pagination request. A zero Limit selects the default.
type Page struct {
	Skip  int
	Limit int
}

func (l Limits) normalize(p Page) (Page, error) {
	if p.Skip < 0 {
		return Page{}, errs.InvalidInput("skip must be >= 0")
	}
	if p.Limit == 0 {
		p.Limit = l.HistoryDefaultLimit
	}
	if p.Limit < 1 || p.Limit > l.HistoryMaxLimit {
		return Page{}, errs.InvalidInput("limit out of range")
	}
	return p, nil
}

func (l Limits) cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errs.InvalidInput("content is required")
	}
	if utf8.RuneCountInString(content) > l.MaxContentLength {
		return "", errs.InvalidInput("content too long")
	}
	return content, nil
}

// HistoryQuery selects a conversation page. MarkRead marks the caller's unread
// messages in the conversation as read after the page is fetched.
type HistoryQuery struct {
	Page
	MarkRead bool
}

// DirectService is the delivery pipeline for direct messages.
type DirectService struct {
	messages    repositories.MessageRepository
	friendships repositories.FriendshipRepository
	accounts    repositories.AccountRepository
	hub         Broadcaster
	audit       *telemetry.AuditEmitter
	limits      Limits
}

func NewDirectService(messages repositories.MessageRepository, friendships repositories.FriendshipRepository, accounts repositories.AccountRepository, hub Broadcaster, audit *telemetry.AuditEmitter, limits Limits) *DirectService {
	return &DirectService{
		messages:    messages,
		friendships: friendships,
		accounts:    accounts,
		hub:         hub,
		audit:       audit,
		limits:      limits.withDefaults(),
	}
}

// Send validates, persists and, if the receiver is online, delivers a direct
// message. A failed push never rolls back the stored row or its status.
func (s *DirectService) Send(ctx context.Context, senderID, receiverID int, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "direct.send")
	defer span.End()
	span.SetAttributes(attribute.Int("sender_id", senderID), attribute.Int("receiver_id", receiverID))

	content, err := s.limits.cleanContent(content)
	if err != nil {
		return models.Message{}, err
	}
	if receiverID <= 0 {
		return models.Message{}, errs.InvalidInput("invalid receiver id")
	}
	if senderID == receiverID {
		// an account is never its own friend
		return models.Message{}, errs.Forbidden("users are not friends")
	}

	exists, err := s.accounts.Exists(ctx, receiverID)
	if err != nil {
		return models.Message{}, errs.Wrap(err, errs.KindInternal, "lookup receiver")
	}
	if !exists {
		return models.Message{}, errs.NotFound("receiver not found")
	}

	friends, err := s.friendships.AreFriends(ctx, senderID, receiverID)
	if err != nil {
		return models.Message{}, errs.Wrap(err, errs.KindInternal, "check friendship")
	}
	if !friends {
		return models.Message{}, errs.Forbidden("users are not friends")
	}

	msg, err := s.messages.CreateMessage(ctx, senderID, receiverID, content)
	if err != nil {
		zap.L().Error("store direct message failed", zap.Int("sender_id", senderID), zap.Error(err))
		return models.Message{}, errs.Wrap(err, errs.KindInternal, "store message")
	}
	observability.IncMessagePersisted("direct")

	if s.hub.IsOnline(receiverID) && msg.Status.CanAdvanceTo(models.StatusDelivered) {
		delivered, err := s.messages.MarkDelivered(ctx, msg.ID)
		if err != nil {
			zap.L().Warn("mark delivered failed", zap.Int("message_id", msg.ID), zap.Error(err))
		} else {
			msg = delivered
		}
		if !s.hub.ToOne(receiverID, models.NewMessageDelivery(msg)) {
			zap.L().Debug("direct push dropped", zap.Int("message_id", msg.ID), zap.Int("receiver_id", receiverID))
		}
	}

	s.audit.Action(ctx, "message_sent", senderID, telemetry.RequestIDFromContext(ctx), map[string]any{
		"message_id":  msg.ID,
		"receiver_id": receiverID,
		"status":      string(msg.Status),
	})
	return msg, nil
}

// MarkRead moves a message to read on behalf of its receiver. Repeating the
// call succeeds without changing status or read_at.
func (s *DirectService) MarkRead(ctx context.Context, messageID, readerID int) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "direct.mark_read")
	defer span.End()

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, translateMessageErr(err)
	}
	if msg.IsDeleted {
		return models.Message{}, errs.NotFound("message not found")
	}
	if msg.ReceiverID != readerID {
		return models.Message{}, errs.Forbidden("only the receiver can mark a message read")
	}
	if !msg.Status.CanAdvanceTo(models.StatusRead) {
		return msg, nil
	}

	updated, changed, err := s.messages.MarkRead(ctx, messageID)
	if err != nil {
		return models.Message{}, translateMessageErr(err)
	}
	if changed {
		s.hub.ToOne(updated.SenderID, models.NewMessageRead(updated.ID, readerID))
		s.audit.Action(ctx, "message_read", readerID, telemetry.RequestIDFromContext(ctx), map[string]any{"message_id": updated.ID})
	}
	return updated, nil
}

// Delete soft-deletes a message. Only the original sender may delete.
func (s *DirectService) Delete(ctx context.Context, messageID, requesterID int) error {
	ctx, span := tracer.Start(ctx, "direct.delete")
	defer span.End()

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return translateMessageErr(err)
	}
	if msg.SenderID != requesterID {
		return errs.Forbidden("only the sender can delete a message")
	}
	if msg.IsDeleted {
		return nil
	}
	if err := s.messages.SoftDelete(ctx, messageID, requesterID); err != nil {
		return translateMessageErr(err)
	}

	s.hub.ToOne(msg.ReceiverID, models.NewMessageDeleted(msg.ID, 0))
	s.audit.Action(ctx, "message_deleted", requesterID, telemetry.RequestIDFromContext(ctx), map[string]any{"message_id": msg.ID})
	return nil
}

// History returns one page of the conversation with peerID. The page reflects
// rows as fetched; the read side effect applies afterwards.
func (s *DirectService) History(ctx context.Context, userID, peerID int, q HistoryQuery) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "direct.history")
	defer span.End()

	page, err := s.limits.normalize(q.Page)
	if err != nil {
		return nil, err
	}
	if peerID <= 0 || peerID == userID {
		return nil, errs.InvalidInput("invalid peer id")
	}

	friends, err := s.friendships.AreFriends(ctx, userID, peerID)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "check friendship")
	}
	if !friends {
		return nil, errs.Forbidden("users are not friends")
	}

	msgs, err := s.messages.ListConversation(ctx, userID, peerID, page.Skip, page.Limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "load history")
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	if q.MarkRead {
		if _, err := s.messages.MarkConversationRead(ctx, userID, peerID); err != nil {
			zap.L().Warn("mark conversation read failed", zap.Int("user_id", userID), zap.Int("peer_id", peerID), zap.Error(err))
		}
	}
	return msgs, nil
}

// UnreadCount counts unread messages addressed to userID; peerID 0 means all peers.
func (s *DirectService) UnreadCount(ctx context.Context, userID, peerID int) (int, error) {
	if peerID < 0 {
		return 0, errs.InvalidInput("invalid peer id")
	}
	count, err := s.messages.CountUnread(ctx, userID, peerID)
	if err != nil {
		return 0, errs.Wrap(err, errs.KindInternal, "count unread")
	}
	return count, nil
}

// OnlineFriends returns the caller's accepted friends that are online now.
func (s *DirectService) OnlineFriends(ctx context.Context, userID int) ([]int, error) {
	ids, err := s.friendships.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "list friends")
	}
	return s.hub.OnlineAmong(ids), nil
}

func translateMessageErr(err error) error {
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return errs.NotFound("message not found")
	}
	return errs.Wrap(err, errs.KindInternal, "message store")
}
