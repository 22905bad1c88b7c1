package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"messaging-service/internal/errs"
	"messaging-service/internal/telemetry"
)

const requestIDContextKey = "requestID"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID != 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	return nil
}

// requestContext carries the request id down to the services so their audit
// envelopes line up with the access log.
func requestContext(c *gin.Context) context.Context {
	return telemetry.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level, text string) {
	if audit == nil {
		return
	}
	audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

// respondError writes err as {"error": ...}. Internal failures are logged and
// audited; their detail never reaches the client.
func respondError(c *gin.Context, audit *telemetry.AuditEmitter, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestIDFromContext(c)),
			zap.Error(err),
		)
		emitAudit(c, audit, "ERROR", "internal error")
	}
	c.JSON(status, gin.H{"error": errs.Message(err)})
}

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + paramLabel(name)})
		return 0, false
	}
	return id, true
}

func paramLabel(name string) string {
	switch name {
	case "peer_id":
		return "peer id"
	case "group_id":
		return "group id"
	case "message_id":
		return "message id"
	default:
		return name
	}
}

func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}
