package models

// Outbound event types pushed to websocket clients.
const (
	EventConnectionEstablished = "connection_established"
	EventOnlineFriends         = "online_friends"
	EventOnlineMembers         = "online_members"
	EventNewMessage            = "new_message"
	EventGroupMessage          = "group_message"
	EventMessageSent           = "message_sent"
	EventMessageRead           = "message_read"
	EventMessageDeleted        = "message_deleted"
	EventTypingIndicator       = "typing_indicator"
	EventError                 = "error"
)

type ConnectionEstablishedEvent struct {
	Type      string `json:"type"`
	UserID    int    `json:"user_id"`
	Message   string `json:"message"`
	GroupID   int    `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
}

type OnlineFriendsEvent struct {
	Type    string `json:"type"`
	Friends []int  `json:"friends"`
}

type OnlineMembersEvent struct {
	Type    string `json:"type"`
	GroupID int    `json:"group_id"`
	Members []int  `json:"members"`
}

// NewMessageEvent delivers a direct message to its receiver.
type NewMessageEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// GroupMessageEvent fans a group message out to online members.
type GroupMessageEvent struct {
	Type string       `json:"type"`
	Data GroupMessage `json:"data"`
}

// MessageSentEvent confirms a send back to the sender's own session.
type MessageSentEvent struct {
	Type      string        `json:"type"`
	MessageID int           `json:"message_id"`
	Status    MessageStatus `json:"status"`
	GroupID   int           `json:"group_id,omitempty"`
}

type MessageReadEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
	ReadBy    int    `json:"read_by"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
	GroupID   int    `json:"group_id,omitempty"`
}

type TypingIndicatorEvent struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
	GroupID  int    `json:"group_id,omitempty"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnectionEstablished(userID int, group *Group) ConnectionEstablishedEvent {
	event := ConnectionEstablishedEvent{Type: EventConnectionEstablished, UserID: userID, Message: "connected"}
	if group != nil {
		event.GroupID = group.ID
		event.GroupName = group.Name
		event.Message = "connected to group " + group.Name
	}
	return event
}

func NewOnlineFriends(ids []int) OnlineFriendsEvent {
	if ids == nil {
		ids = []int{}
	}
	return OnlineFriendsEvent{Type: EventOnlineFriends, Friends: ids}
}

func NewOnlineMembers(groupID int, ids []int) OnlineMembersEvent {
	if ids == nil {
		ids = []int{}
	}
	return OnlineMembersEvent{Type: EventOnlineMembers, GroupID: groupID, Members: ids}
}

func NewMessageDelivery(msg Message) NewMessageEvent {
	return NewMessageEvent{Type: EventNewMessage, Message: msg}
}

func NewGroupMessageDelivery(msg GroupMessage) GroupMessageEvent {
	return GroupMessageEvent{Type: EventGroupMessage, Data: msg}
}

func NewMessageSent(messageID int, status MessageStatus, groupID int) MessageSentEvent {
	return MessageSentEvent{Type: EventMessageSent, MessageID: messageID, Status: status, GroupID: groupID}
}

func NewMessageRead(messageID, readBy int) MessageReadEvent {
	return MessageReadEvent{Type: EventMessageRead, MessageID: messageID, ReadBy: readBy}
}

func NewMessageDeleted(messageID, groupID int) MessageDeletedEvent {
	return MessageDeletedEvent{Type: EventMessageDeleted, MessageID: messageID, GroupID: groupID}
}

func NewTypingIndicator(userID int, isTyping bool, groupID int) TypingIndicatorEvent {
	return TypingIndicatorEvent{Type: EventTypingIndicator, UserID: userID, IsTyping: isTyping, GroupID: groupID}
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}
