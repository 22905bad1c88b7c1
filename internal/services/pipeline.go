package services

import (
	"context"

	"messaging-service/internal/models"
)

// Pipeline exposes both delivery pipelines to websocket sessions.
type Pipeline struct {
	Direct *DirectService
	Group  *GroupService
}

func (p Pipeline) SendDirect(ctx context.Context, senderID, receiverID int, content string) (models.Message, error) {
	return p.Direct.Send(ctx, senderID, receiverID, content)
}

func (p Pipeline) SendGroup(ctx context.Context, senderID, groupID int, content string) (models.GroupMessage, error) {
	return p.Group.Send(ctx, senderID, groupID, content)
}

func (p Pipeline) MarkRead(ctx context.Context, messageID, readerID int) (models.Message, error) {
	return p.Direct.MarkRead(ctx, messageID, readerID)
}
