package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"messaging-service/internal/errs"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// GroupService is the delivery pipeline for group messages.
type GroupService struct {
	groups   repositories.GroupRepository
	messages repositories.GroupMessageRepository
	hub      Broadcaster
	audit    *telemetry.AuditEmitter
	limits   Limits
}

func NewGroupService(groups repositories.GroupRepository, messages repositories.GroupMessageRepository, hub Broadcaster, audit *telemetry.AuditEmitter, limits Limits) *GroupService {
	return &GroupService{
		groups:   groups,
		messages: messages,
		hub:      hub,
		audit:    audit,
		limits:   limits.withDefaults(),
	}
}

// GetGroup returns the group or a NotFound error.
func (s *GroupService) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, repositories.ErrGroupNotFound) {
			return models.Group{}, errs.NotFound("group not found")
		}
		return models.Group{}, errs.Wrap(err, errs.KindInternal, "load group")
	}
	return group, nil
}

func (s *GroupService) IsMember(ctx context.Context, groupID, userID int) (bool, error) {
	member, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return false, errs.Wrap(err, errs.KindInternal, "check membership")
	}
	return member, nil
}

// requireMember checks the group exists and userID currently belongs to it.
func (s *GroupService) requireMember(ctx context.Context, groupID, userID int) (models.Group, error) {
	if groupID <= 0 {
		return models.Group{}, errs.InvalidInput("invalid group id")
	}
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	member, err := s.IsMember(ctx, groupID, userID)
	if err != nil {
		return models.Group{}, err
	}
	if !member {
		return models.Group{}, errs.Forbidden("not a group member")
	}
	return group, nil
}

// Send persists a group message and fans it out to online members other than
// the sender. Status stays sent; per-member progress is tracked by read states.
func (s *GroupService) Send(ctx context.Context, senderID, groupID int, content string) (models.GroupMessage, error) {
	ctx, span := tracer.Start(ctx, "group.send")
	defer span.End()
	span.SetAttributes(attribute.Int("sender_id", senderID), attribute.Int("group_id", groupID))

	content, err := s.limits.cleanContent(content)
	if err != nil {
		return models.GroupMessage{}, err
	}
	if _, err := s.requireMember(ctx, groupID, senderID); err != nil {
		return models.GroupMessage{}, err
	}

	msg, err := s.messages.CreateGroupMessage(ctx, groupID, senderID, content)
	if err != nil {
		zap.L().Error("store group message failed", zap.Int("group_id", groupID), zap.Error(err))
		return models.GroupMessage{}, errs.Wrap(err, errs.KindInternal, "store message")
	}
	observability.IncMessagePersisted("group")

	recipients := s.hub.ToGroup(groupID, models.NewGroupMessageDelivery(msg), senderID)
	span.SetAttributes(attribute.Int("recipients", recipients))

	s.audit.Action(ctx, "group_message_sent", senderID, telemetry.RequestIDFromContext(ctx), map[string]any{
		"message_id": msg.ID,
		"group_id":   groupID,
		"recipients": recipients,
	})
	return msg, nil
}

// History returns one page of visible group messages without touching status.
func (s *GroupService) History(ctx context.Context, userID, groupID int, page Page) ([]models.GroupMessage, error) {
	ctx, span := tracer.Start(ctx, "group.history")
	defer span.End()

	page, err := s.limits.normalize(page)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListGroupMessages(ctx, groupID, page.Skip, page.Limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "load history")
	}
	if msgs == nil {
		msgs = []models.GroupMessage{}
	}
	return msgs, nil
}

// Delete soft-deletes a group message. Only the original sender may delete,
// and only while still a member.
func (s *GroupService) Delete(ctx context.Context, groupID, messageID, requesterID int) error {
	ctx, span := tracer.Start(ctx, "group.delete")
	defer span.End()

	if _, err := s.requireMember(ctx, groupID, requesterID); err != nil {
		return err
	}
	msg, err := s.messages.GetGroupMessage(ctx, messageID)
	if err != nil {
		return translateMessageErr(err)
	}
	if msg.GroupID != groupID {
		return errs.NotFound("message not found")
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

	s.hub.ToGroup(groupID, models.NewMessageDeleted(msg.ID, groupID), requesterID)
	s.audit.Action(ctx, "group_message_deleted", requesterID, telemetry.RequestIDFromContext(ctx), map[string]any{
		"message_id": msg.ID,
		"group_id":   groupID,
	})
	return nil
}

// OnlineMembers lists the group's members that are online now.
func (s *GroupService) OnlineMembers(ctx context.Context, userID, groupID int) ([]int, error) {
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.hub.GroupMembersOnline(groupID), nil
}

// MarkRead advances the member's read position to messageID. Earlier
// positions are ignored.
func (s *GroupService) MarkRead(ctx context.Context, userID, groupID, messageID int) (models.GroupReadState, error) {
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return models.GroupReadState{}, err
	}
	if messageID <= 0 {
		return models.GroupReadState{}, errs.InvalidInput("invalid message id")
	}
	msg, err := s.messages.GetGroupMessage(ctx, messageID)
	if err != nil {
		return models.GroupReadState{}, translateMessageErr(err)
	}
	if msg.GroupID != groupID {
		return models.GroupReadState{}, errs.NotFound("message not found")
	}

	state, err := s.groups.AdvanceReadState(ctx, groupID, userID, messageID)
	if err != nil {
		return models.GroupReadState{}, errs.Wrap(err, errs.KindInternal, "store read state")
	}
	return state, nil
}

// UnreadCount counts visible messages from other members after the member's
// read position.
func (s *GroupService) UnreadCount(ctx context.Context, userID, groupID int) (int, error) {
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return 0, err
	}
	state, err := s.groups.GetReadState(ctx, groupID, userID)
	if err != nil {
		return 0, errs.Wrap(err, errs.KindInternal, "load read state")
	}
	count, err := s.messages.CountAfter(ctx, groupID, state.LastReadMessageID, userID)
	if err != nil {
		return 0, errs.Wrap(err, errs.KindInternal, "count unread")
	}
	return count, nil
}
