package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, senderID, receiverID int, content string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, userID, peerID, skip, limit int) ([]models.Message, error) {
	args := m.Called(ctx, userID, peerID, skip, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID int) (models.Message, bool, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, readerID, peerID int) (int64, error) {
	args := m.Called(ctx, readerID, peerID)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, receiverID, peerID int) (int, error) {
	args := m.Called(ctx, receiverID, peerID)
	return args.Int(0), args.Error(1)
}

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) IsMember(ctx context.Context, groupID, userID int) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupIDsForUser(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *GroupRepositoryMock) GetReadState(ctx context.Context, groupID, userID int) (models.GroupReadState, error) {
	args := m.Called(ctx, groupID, userID)
	var state models.GroupReadState
	if val := args.Get(0); val != nil {
		state = val.(models.GroupReadState)
	}
	return state, args.Error(1)
}

func (m *GroupRepositoryMock) AdvanceReadState(ctx context.Context, groupID, userID, messageID int) (models.GroupReadState, error) {
	args := m.Called(ctx, groupID, userID, messageID)
	var state models.GroupReadState
	if val := args.Get(0); val != nil {
		state = val.(models.GroupReadState)
	}
	return state, args.Error(1)
}

type GroupMessageRepositoryMock struct {
	mock.Mock
}

func (m *GroupMessageRepositoryMock) CreateGroupMessage(ctx context.Context, groupID, senderID int, content string) (models.GroupMessage, error) {
	args := m.Called(ctx, groupID, senderID, content)
	var msg models.GroupMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.GroupMessage)
	}
	return msg, args.Error(1)
}

func (m *GroupMessageRepositoryMock) GetGroupMessage(ctx context.Context, messageID int) (models.GroupMessage, error) {
	args := m.Called(ctx, messageID)
	var msg models.GroupMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.GroupMessage)
	}
	return msg, args.Error(1)
}

func (m *GroupMessageRepositoryMock) ListGroupMessages(ctx context.Context, groupID, skip, limit int) ([]models.GroupMessage, error) {
	args := m.Called(ctx, groupID, skip, limit)
	var list []models.GroupMessage
	if val := args.Get(0); val != nil {
		list = val.([]models.GroupMessage)
	}
	return list, args.Error(1)
}

func (m *GroupMessageRepositoryMock) SoftDelete(ctx context.Context, messageID, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *GroupMessageRepositoryMock) CountAfter(ctx context.Context, groupID, afterID, excludeSender int) (int, error) {
	args := m.Called(ctx, groupID, afterID, excludeSender)
	return args.Int(0), args.Error(1)
}

type FriendshipRepositoryMock struct {
	mock.Mock
}

func (m *FriendshipRepositoryMock) AreFriends(ctx context.Context, a, b int) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

func (m *FriendshipRepositoryMock) ListFriendIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type AccountRepositoryMock struct {
	mock.Mock
}

func (m *AccountRepositoryMock) Exists(ctx context.Context, userID int) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.GroupRepository = (*GroupRepositoryMock)(nil)
var _ repositories.GroupMessageRepository = (*GroupMessageRepositoryMock)(nil)
var _ repositories.FriendshipRepository = (*FriendshipRepositoryMock)(nil)
var _ repositories.AccountRepository = (*AccountRepositoryMock)(nil)
