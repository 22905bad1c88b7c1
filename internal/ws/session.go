package ws

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"messaging-service/internal/errs"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// SessionState is the lifecycle position of a session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Messenger is the delivery pipeline as seen from a session.
type Messenger interface {
	SendDirect(ctx context.Context, senderID, receiverID int, content string) (models.Message, error)
	SendGroup(ctx context.Context, senderID, groupID int, content string) (models.GroupMessage, error)
	MarkRead(ctx context.Context, messageID, readerID int) (models.Message, error)
}

// MembershipSource supplies the friend and group snapshot loaded on connect.
type MembershipSource interface {
	FriendIDs(ctx context.Context, userID int) ([]int, error)
	GroupIDs(ctx context.Context, userID int) ([]int, error)
}

var tracer = otel.Tracer("messaging-service/ws")

// session owns one connection from activation to cleanup.
type session struct {
	hub        *Hub
	raw        *websocket.Conn
	conn       *wsConn
	userID     int
	group      *models.Group
	info       ConnInfo
	messenger  Messenger
	membership MembershipSource
	limiter    *rate.Limiter
	maxBytes   int64
	state      atomic.Int32
	log        *zap.Logger
}

func (s *session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *session) kind() string {
	if s.group != nil {
		return "group"
	}
	return "direct"
}

// activate registers presence, loads the relationship snapshot, joins fan-out
// sets and sends the initial events.
func (s *session) activate(ctx context.Context) {
	s.hub.Register(s.userID, s.conn)
	s.state.Store(int32(StateActive))

	friendIDs, err := s.membership.FriendIDs(ctx, s.userID)
	if err != nil {
		s.log.Warn("friend snapshot failed", zap.Error(err))
	}
	s.hub.RefreshFriends(s.userID, friendIDs)

	groupIDs, err := s.membership.GroupIDs(ctx, s.userID)
	if err != nil {
		s.log.Warn("group snapshot failed", zap.Error(err))
	}
	s.hub.RefreshGroups(s.userID, groupIDs)

	if s.group != nil {
		s.hub.JoinGroup(s.userID, s.group.ID)
	} else {
		for _, groupID := range s.hub.CachedGroups(s.userID) {
			s.hub.JoinGroup(s.userID, groupID)
		}
	}

	observability.IncWSActive(s.kind())
	observability.PublishWSEvent(ctx, s.info.event("ws_connect", ""))
	s.log.Info("session active")

	s.send(models.NewConnectionEstablished(s.userID, s.group))
	if s.group != nil {
		s.send(models.NewOnlineMembers(s.group.ID, s.hub.GroupMembersOnline(s.group.ID)))
	} else {
		s.send(models.NewOnlineFriends(s.hub.OnlineFriends(s.userID)))
	}
}

// run reads frames until the transport fails, then cleans up.
func (s *session) run(ctx context.Context) {
	reason := ""
	defer func() { s.cleanup(ctx, reason) }()

	if s.maxBytes > 0 {
		s.raw.SetReadLimit(s.maxBytes)
	}
	for {
		_, data, err := s.raw.ReadMessage()
		if err != nil {
			reason = err.Error()
			if !isExpectedClose(err) && s.State() == StateActive {
				observability.PublishWSEvent(ctx, s.info.event("ws_error", reason))
				s.log.Debug("session read ended", zap.Error(err))
			}
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *session) cleanup(ctx context.Context, reason string) {
	s.state.Store(int32(StateClosed))

	var groups []int
	if s.group != nil {
		groups = append(groups, s.group.ID)
	}
	owned := s.hub.Detach(s.userID, s.conn, groups...)
	_ = s.conn.Close()

	observability.DecWSActive(s.kind())
	observability.PublishWSEvent(ctx, s.info.event("ws_disconnect", reason))
	s.log.Info("session closed", zap.Bool("owned_registration", owned), zap.String("reason", reason))
}

// handleFrame processes one inbound frame. Failures become error events and
// never end the session.
func (s *session) handleFrame(ctx context.Context, data []byte) {
	frameType := "unknown"
	defer func() {
		if r := recover(); r != nil {
			observability.IncFrame(frameType, "error")
			s.log.Error("frame handler panic", zap.Any("panic", r), zap.String("frame_type", frameType))
			s.send(models.NewError("internal error"))
		}
	}()

	if !s.limiter.Allow() {
		observability.IncFrame(frameType, "rejected")
		s.send(models.NewError("rate limit exceeded"))
		return
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		observability.IncFrame(frameType, "invalid")
		s.log.Debug("invalid frame", zap.Error(err))
		s.send(models.NewError(errs.Message(err)))
		return
	}
	frameType = frame.FrameType()

	ctx, span := tracer.Start(ctx, "ws.frame."+frameType)
	span.SetAttributes(attribute.Int("user_id", s.userID), attribute.String("session.kind", s.kind()))
	defer span.End()

	switch f := frame.(type) {
	case SendMessageFrame:
		err = s.onSendMessage(ctx, f)
	case MarkReadFrame:
		err = s.onMarkRead(ctx, f)
	case TypingFrame:
		err = s.onTyping(f)
	default:
		err = errs.InvalidInput(fmt.Sprintf("unsupported frame type %q", frameType))
	}
	if err != nil {
		observability.IncFrame(frameType, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, errs.Message(err))
		if errs.KindOf(err) == errs.KindInternal {
			s.log.Error("frame failed", zap.String("frame_type", frameType), zap.Error(err))
		}
		s.send(models.NewError(errs.Message(err)))
		return
	}
	observability.IncFrame(frameType, "ok")
}

func (s *session) onSendMessage(ctx context.Context, f SendMessageFrame) error {
	if f.ReceiverID != 0 {
		msg, err := s.messenger.SendDirect(ctx, s.userID, f.ReceiverID, f.Content)
		if err != nil {
			return err
		}
		s.send(models.NewMessageSent(msg.ID, msg.Status, 0))
		return nil
	}

	groupID, err := s.resolveGroup(f.GroupID)
	if err != nil {
		return err
	}
	msg, err := s.messenger.SendGroup(ctx, s.userID, groupID, f.Content)
	if err != nil {
		return err
	}
	s.send(models.NewMessageSent(msg.ID, msg.Status, groupID))
	return nil
}

func (s *session) onMarkRead(ctx context.Context, f MarkReadFrame) error {
	_, err := s.messenger.MarkRead(ctx, f.MessageID, s.userID)
	return err
}

// onTyping relays a typing indicator. Direct typing is gated by the cached
// friend set; group typing by the cached group set, except for the group the
// session is bound to, which was checked at handshake.
func (s *session) onTyping(f TypingFrame) error {
	if f.ReceiverID != 0 {
		if !s.hub.AreFriends(s.userID, f.ReceiverID) {
			return errs.Forbidden("users are not friends")
		}
		s.hub.ToOne(f.ReceiverID, models.NewTypingIndicator(s.userID, f.IsTyping, 0))
		return nil
	}

	groupID, err := s.resolveGroup(f.GroupID)
	if err != nil {
		return err
	}
	bound := s.group != nil && s.group.ID == groupID
	if !bound && !s.hub.InGroup(s.userID, groupID) {
		return errs.Forbidden("not a group member")
	}
	s.hub.ToGroup(groupID, models.NewTypingIndicator(s.userID, f.IsTyping, groupID), s.userID)
	return nil
}

func (s *session) resolveGroup(groupID int) (int, error) {
	if groupID != 0 {
		return groupID, nil
	}
	if s.group != nil {
		return s.group.ID, nil
	}
	return 0, errs.InvalidInput("receiver_id or group_id is required")
}

// send writes to this session's own connection. Write failures surface as a
// read error on the next loop iteration.
func (s *session) send(event any) {
	if err := s.conn.Send(event); err != nil {
		s.log.Debug("session write failed", zap.Error(err))
	}
}
