package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/services"
	"messaging-service/internal/telemetry"
)

// DirectHandler exposes direct-message endpoints over HTTP.
type DirectHandler struct {
	service *services.DirectService
	audit   *telemetry.AuditEmitter
}

// NewDirectHandler builds a DirectHandler.
func NewDirectHandler(service *services.DirectService, audit *telemetry.AuditEmitter) *DirectHandler {
	return &DirectHandler{service: service, audit: audit}
}

// Register mounts the direct-message routes on an authenticated group.
func (h *DirectHandler) Register(r gin.IRouter) {
	r.POST("/chats/:peer_id/messages", h.SendMessage)
	r.GET("/chats/:peer_id/messages", h.History)
	r.POST("/messages/:message_id/read", h.MarkRead)
	r.DELETE("/messages/:message_id", h.DeleteMessage)
	r.GET("/messages/unread-count", h.UnreadCount)
	r.GET("/friends/online", h.OnlineFriends)
}

// SendMessage handles POST /chats/:peer_id/messages.
func (h *DirectHandler) SendMessage(c *gin.Context) {
	peerID, ok := paramID(c, "peer_id")
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

	msg, err := h.service.Send(requestContext(c), c.GetInt("userID"), peerID, req.Content)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// History handles GET /chats/:peer_id/messages?skip=&limit=&mark_read=.
func (h *DirectHandler) History(c *gin.Context) {
	peerID, ok := paramID(c, "peer_id")
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
	markRead := true
	if raw := c.Query("mark_read"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mark_read"})
			return
		}
		markRead = parsed
	}

	msgs, err := h.service.History(requestContext(c), c.GetInt("userID"), peerID, services.HistoryQuery{
		Page:     services.Page{Skip: skip, Limit: limit},
		MarkRead: markRead,
	})
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead handles POST /messages/:message_id/read.
func (h *DirectHandler) MarkRead(c *gin.Context) {
	messageID, ok := paramID(c, "message_id")
	if !ok {
		return
	}

	msg, err := h.service.MarkRead(requestContext(c), messageID, c.GetInt("userID"))
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /messages/:message_id.
func (h *DirectHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := paramID(c, "message_id")
	if !ok {
		return
	}

	if err := h.service.Delete(requestContext(c), messageID, c.GetInt("userID")); err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount handles GET /messages/unread-count with an optional peer_id.
func (h *DirectHandler) UnreadCount(c *gin.Context) {
	peerID, ok := queryInt(c, "peer_id", 0)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(requestContext(c), c.GetInt("userID"), peerID)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *DirectHandler) OnlineFriends(c *gin.Context) {
	ids, err := h.service.OnlineFriends(requestContext(c), c.GetInt("userID"))
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": ids})
}
