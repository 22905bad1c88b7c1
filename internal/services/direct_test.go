package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/errs"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/services"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

type directDeps struct {
	messages *mocks.MessageRepositoryMock
	friends  *mocks.FriendshipRepositoryMock
	accounts *mocks.AccountRepositoryMock
	hub      *ws.Hub
	service  *services.DirectService
}

func newDirect(t *testing.T) *directDeps {
	t.Helper()
	d := &directDeps{
		messages: new(mocks.MessageRepositoryMock),
		friends:  new(mocks.FriendshipRepositoryMock),
		accounts: new(mocks.AccountRepositoryMock),
		hub:      ws.NewHub(),
	}
	d.service = services.NewDirectService(d.messages, d.friends, d.accounts, d.hub, nil, services.Limits{MaxContentLength: 10})
	return d
}

func TestSendToOfflineFriendStaysSent(t *testing.T) {
	d := newDirect(t)
	ctx := context.Background()
	stored := models.Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "hi", Status: models.StatusSent}

	d.accounts.On("Exists", mock.Anything, 2).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 1, 2).Return(true, nil)
	d.messages.On("CreateMessage", mock.Anything, 1, 2, "hi").Return(stored, nil).Once()

	msg, err := d.service.Send(ctx, 1, 2, "  hi ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	d.messages.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
	d.messages.AssertExpectations(t)
}

// Offline delivery: history leaves the row sent and an explicit
// read moves it to read with read_at set.
func TestOfflineMessageReadAfterHistory(t *testing.T) {
	d := newDirect(t)
	ctx := context.Background()
	sender := mocks.NewRecordingConn()
	d.hub.Register(1, sender)

	stored := models.Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "hi", Status: models.StatusSent}
	now := time.Now()
	read := stored
	read.Status = models.StatusRead
	read.ReadAt = &now

	d.accounts.On("Exists", mock.Anything, 2).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 1, 2).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 2, 1).Return(true, nil)
	d.messages.On("CreateMessage", mock.Anything, 1, 2, "hi").Return(stored, nil)
	d.messages.On("ListConversation", mock.Anything, 2, 1, 0, 50).Return([]models.Message{stored}, nil)
	d.messages.On("GetMessage", mock.Anything, 1).Return(stored, nil).Once()
	d.messages.On("MarkRead", mock.Anything, 1).Return(read, true, nil).Once()

	_, err := d.service.Send(ctx, 1, 2, "hi")
	require.NoError(t, err)

	history, err := d.service.History(ctx, 2, 1, services.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusSent, history[0].Status)
	d.messages.AssertNotCalled(t, "MarkConversationRead", mock.Anything, mock.Anything, mock.Anything)

	msg, err := d.service.MarkRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msg.Status)
	assert.NotNil(t, msg.ReadAt)

	events := sender.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMessageRead, events[0]["type"])
	assert.Equal(t, float64(2), events[0]["read_by"])
}

func TestHistoryMarksConversationReadWhenAsked(t *testing.T) {
	d := newDirect(t)
	page := []models.Message{{ID: 3, SenderID: 1, ReceiverID: 2, Status: models.StatusDelivered}}
	d.friends.On("AreFriends", mock.Anything, 2, 1).Return(true, nil)
	d.messages.On("ListConversation", mock.Anything, 2, 1, 10, 5).Return(page, nil)
	d.messages.On("MarkConversationRead", mock.Anything, 2, 1).Return(1, nil).Once()

	history, err := d.service.History(context.Background(), 2, 1, services.HistoryQuery{Page: services.Page{Skip: 10, Limit: 5}, MarkRead: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, history[0].Status)
	d.messages.AssertExpectations(t)
}

func TestHistoryValidation(t *testing.T) {
	d := newDirect(t)
	ctx := context.Background()

	_, err := d.service.History(ctx, 1, 2, services.HistoryQuery{Page: services.Page{Skip: -1}})
	assert.True(t, errs.Is(err, errs.KindInvalidInput))

	_, err = d.service.History(ctx, 1, 2, services.HistoryQuery{Page: services.Page{Limit: 101}})
	assert.True(t, errs.Is(err, errs.KindInvalidInput))

	d.friends.On("AreFriends", mock.Anything, 1, 3).Return(false, nil)
	_, err = d.service.History(ctx, 1, 3, services.HistoryQuery{})
	assert.True(t, errs.Is(err, errs.KindForbidden))
}

func TestSendToOnlineFriendDelivers(t *testing.T) {
	d := newDirect(t)
	receiver := mocks.NewRecordingConn()
	d.hub.Register(2, receiver)

	stored := models.Message{ID: 8, SenderID: 1, ReceiverID: 2, Content: "yo", Status: models.StatusSent}
	delivered := stored
	delivered.Status = models.StatusDelivered

	d.accounts.On("Exists", mock.Anything, 2).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 1, 2).Return(true, nil)
	d.messages.On("CreateMessage", mock.Anything, 1, 2, "yo").Return(stored, nil)
	d.messages.On("MarkDelivered", mock.Anything, 8).Return(delivered, nil).Once()

	msg, err := d.service.Send(context.Background(), 1, 2, "yo")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, msg.Status)

	events := receiver.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNewMessage, events[0]["type"])
	assert.Equal(t, "delivered", events[0]["message"].(map[string]any)["status"])
}

func TestSendPushFailureKeepsDeliveredStatus(t *testing.T) {
	d := newDirect(t)
	receiver := mocks.NewRecordingConn()
	d.hub.Register(2, receiver)
	receiver.Fail()

	stored := models.Message{ID: 8, SenderID: 1, ReceiverID: 2, Content: "yo", Status: models.StatusSent}
	delivered := stored
	delivered.Status = models.StatusDelivered

	d.accounts.On("Exists", mock.Anything, 2).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 1, 2).Return(true, nil)
	d.messages.On("CreateMessage", mock.Anything, 1, 2, "yo").Return(stored, nil)
	d.messages.On("MarkDelivered", mock.Anything, 8).Return(delivered, nil)

	msg, err := d.service.Send(context.Background(), 1, 2, "yo")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	assert.False(t, d.hub.IsOnline(2))
}

func TestSendWithoutFriendshipIsForbidden(t *testing.T) {
	d := newDirect(t)
	d.accounts.On("Exists", mock.Anything, 3).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 1, 3).Return(false, nil)

	_, err := d.service.Send(context.Background(), 1, 3, "hello")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindForbidden))
	d.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendValidation(t *testing.T) {
	d := newDirect(t)
	d.accounts.On("Exists", mock.Anything, 404).Return(false, nil)

	tests := []struct {
		name       string
		receiverID int
		content    string
		kind       errs.Kind
	}{
		{name: "empty content", receiverID: 2, content: "   ", kind: errs.KindInvalidInput},
		{name: "too long", receiverID: 2, content: strings.Repeat("x", 11), kind: errs.KindInvalidInput},
		{name: "self", receiverID: 1, content: "hi", kind: errs.KindForbidden},
		{name: "unknown receiver", receiverID: 404, content: "hi", kind: errs.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.service.Send(context.Background(), 1, tt.receiverID, tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
}

func TestSendStoreFailureIsInternal(t *testing.T) {
	d := newDirect(t)
	d.accounts.On("Exists", mock.Anything, 2).Return(true, nil)
	d.friends.On("AreFriends", mock.Anything, 1, 2).Return(true, nil)
	d.messages.On("CreateMessage", mock.Anything, 1, 2, "hi").Return(nil, errors.New("db down"))

	_, err := d.service.Send(context.Background(), 1, 2, "hi")
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
	assert.Equal(t, "internal error", errs.Message(err))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	d := newDirect(t)
	readAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	already := models.Message{ID: 4, SenderID: 1, ReceiverID: 2, Status: models.StatusRead, ReadAt: &readAt}
	d.messages.On("GetMessage", mock.Anything, 4).Return(already, nil)

	first, err := d.service.MarkRead(context.Background(), 4, 2)
	require.NoError(t, err)
	second, err := d.service.MarkRead(context.Background(), 4, 2)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRead, second.Status)
	assert.Equal(t, first.ReadAt, second.ReadAt)
	d.messages.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
}

func TestMarkReadRules(t *testing.T) {
	d := newDirect(t)
	d.messages.On("GetMessage", mock.Anything, 4).Return(models.Message{ID: 4, SenderID: 1, ReceiverID: 2, Status: models.StatusDelivered}, nil)
	d.messages.On("GetMessage", mock.Anything, 99).Return(nil, repositories.ErrMessageNotFound)

	_, err := d.service.MarkRead(context.Background(), 4, 1)
	assert.True(t, errs.Is(err, errs.KindForbidden))

	_, err = d.service.MarkRead(context.Background(), 99, 2)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDeleteOnlyBySender(t *testing.T) {
	d := newDirect(t)
	receiver := mocks.NewRecordingConn()
	d.hub.Register(2, receiver)

	msg := models.Message{ID: 6, SenderID: 1, ReceiverID: 2, Status: models.StatusSent}
	d.messages.On("GetMessage", mock.Anything, 6).Return(msg, nil)
	d.messages.On("SoftDelete", mock.Anything, 6, 1).Return(nil).Once()

	err := d.service.Delete(context.Background(), 6, 2)
	assert.True(t, errs.Is(err, errs.KindForbidden))

	require.NoError(t, d.service.Delete(context.Background(), 6, 1))
	assert.Equal(t, []string{models.EventMessageDeleted}, receiver.Types())
	d.messages.AssertExpectations(t)
}

func TestUnreadCountAndOnlineFriends(t *testing.T) {
	d := newDirect(t)
	d.hub.Register(3, mocks.NewRecordingConn())
	d.messages.On("CountUnread", mock.Anything, 1, 0).Return(4, nil)
	d.messages.On("CountUnread", mock.Anything, 1, 2).Return(1, nil)
	d.friends.On("ListFriendIDs", mock.Anything, 1).Return([]int{2, 3}, nil)

	total, err := d.service.UnreadCount(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	perPeer, err := d.service.UnreadCount(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, perPeer)

	online, err := d.service.OnlineFriends(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, online)
}

func TestSendEmitsAudit(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.messaging", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "message_sent" && env.RequestID == "req-9"
	})).Return(nil).Once()
	audit := telemetry.NewAuditEmitter(pub, "audit.messaging", "messaging-service", "test")

	messages := new(mocks.MessageRepositoryMock)
	friends := new(mocks.FriendshipRepositoryMock)
	accounts := new(mocks.AccountRepositoryMock)
	service := services.NewDirectService(messages, friends, accounts, ws.NewHub(), audit, services.Limits{})

	accounts.On("Exists", mock.Anything, 2).Return(true, nil)
	friends.On("AreFriends", mock.Anything, 1, 2).Return(true, nil)
	messages.On("CreateMessage", mock.Anything, 1, 2, "hi").Return(models.Message{ID: 1, Status: models.StatusSent}, nil)

	ctx := telemetry.WithRequestID(context.Background(), "req-9")
	_, err := service.Send(ctx, 1, 2, "hi")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}
