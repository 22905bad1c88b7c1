package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/services"
	"messaging-service/internal/telemetry"
)

// GroupHandler exposes group messaging endpoints.
type GroupHandler struct {
	service *services.GroupService
	audit   *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(service *services.GroupService, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{service: service, audit: audit}
}

func (h *GroupHandler) Register(r gin.IRouter) {
	r.POST("/groups/:group_id/messages", h.PostGroupMessage)
	r.GET("/groups/:group_id/messages", h.GetGroupMessages)
	r.DELETE("/groups/:group_id/messages/:message_id", h.DeleteGroupMessage)
	r.GET("/groups/:group_id/online", h.OnlineMembers)
	r.POST("/groups/:group_id/read", h.MarkRead)
	r.GET("/groups/:group_id/unread-count", h.UnreadCount)
}

// GetGroupMessages returns one page of the group's visible messages.
func (h *GroupHandler) GetGroupMessages(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	skip, ok := queryInt(c, "skip", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}

	msgs, err := h.service.History(requestContext(c), c.GetInt("userID"), groupID, services.Page{Skip: skip, Limit: limit})
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostGroupMessage persists and broadcasts a group message.
func (h *GroupHandler) PostGroupMessage(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	msg, err := h.service.Send(requestContext(c), c.GetInt("userID"), groupID, req.Content)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// DeleteGroupMessage deletes a message for everyone when invoked by the sender.
func (h *GroupHandler) DeleteGroupMessage(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}
	messageID, ok := paramID(c, "message_id")
	if !ok {
		return
	}

	if err := h.service.Delete(requestContext(c), groupID, messageID, c.GetInt("userID")); err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) OnlineMembers(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	ids, err := h.service.OnlineMembers(requestContext(c), c.GetInt("userID"), groupID)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "members": ids})
}

// MarkRead advances the caller's read position in the group.
func (h *GroupHandler) MarkRead(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	var req struct {
		MessageID int `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id is required"})
		return
	}

	state, err := h.service.MarkRead(requestContext(c), c.GetInt("userID"), groupID, req.MessageID)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *GroupHandler) UnreadCount(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(requestContext(c), c.GetInt("userID"), groupID)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "unread_count": count})
}
