package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"messaging-service/internal/auth"
	"messaging-service/internal/errs"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/telemetry"
)

// GroupDirectory answers the group checks made during a group handshake.
type GroupDirectory interface {
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	IsMember(ctx context.Context, groupID, userID int) (bool, error)
}

// Options tunes per-session transport limits.
type Options struct {
	WriteTimeout    time.Duration
	FrameRate       float64
	FrameBurst      int
	MaxMessageBytes int64
	// AllowedOrigins limits browser origins; empty or "*" accepts any.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.FrameRate <= 0 {
		o.FrameRate = 20
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 40
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	return o
}

// Handler upgrades HTTP requests into direct or group sessions.
type Handler struct {
	hub        *Hub
	validator  auth.TokenValidator
	messenger  Messenger
	membership MembershipSource
	groups     GroupDirectory
	opts       Options
	upgrader   websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, validator auth.TokenValidator, messenger Messenger, membership MembershipSource, groups GroupDirectory, opts Options) *Handler {
	return &Handler{
		hub:        hub,
		validator:  validator,
		messenger:  messenger,
		membership: membership,
		groups:     groups,
		opts:       opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// HandleDirect serves GET /ws.
func (h *Handler) HandleDirect(c *gin.Context) {
	h.serve(c, 0)
}

// HandleGroup serves GET /ws/groups/:group_id.
func (h *Handler) HandleGroup(c *gin.Context) {
	groupID, ok := parsePositiveID(c.Param("group_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	h.serve(c, groupID)
}

func (h *Handler) serve(c *gin.Context, groupID int) {
	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(raw, h.opts.WriteTimeout)

	kind := "direct"
	if groupID != 0 {
		kind = "group"
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		Kind:        kind,
		ResourceID:  groupID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}

	s := &session{
		hub:        h.hub,
		raw:        raw,
		conn:       conn,
		messenger:  h.messenger,
		membership: h.membership,
		limiter:    rate.NewLimiter(rate.Limit(h.opts.FrameRate), h.opts.FrameBurst),
		maxBytes:   h.opts.MaxMessageBytes,
	}
	s.state.Store(int32(StateAuthenticating))

	userID, group, code, reason := h.authenticate(ctx, c.Request, groupID)
	if code != 0 {
		s.state.Store(int32(StateClosed))
		span.SetAttributes(attribute.String("ws.reject_reason", reason))
		zap.L().Info("websocket handshake rejected",
			zap.String("kind", kind),
			zap.Int("group_id", groupID),
			zap.String("reason", reason),
			zap.String("conn_id", info.ConnID),
		)
		observability.IncWSEvent(kind, "ws_rejected")
		_ = conn.closeWith(code, reason)
		return
	}

	info.UserID = userID
	s.userID = userID
	s.group = group
	s.info = info
	s.log = zap.L().With(
		zap.String("conn_id", info.ConnID),
		zap.String("kind", kind),
		zap.Int("user_id", userID),
		zap.Int("group_id", groupID),
	)
	span.SetAttributes(attribute.Int("user_id", userID), attribute.String("session.kind", kind))

	sessionCtx := telemetry.WithRequestID(context.WithoutCancel(ctx), info.RequestID)
	s.activate(sessionCtx)
	go s.run(sessionCtx)
}

// authenticate resolves the account and, for group sessions, the group. A
// non-zero close code means the handshake is rejected.
func (h *Handler) authenticate(ctx context.Context, r *http.Request, groupID int) (int, *models.Group, int, string) {
	userID, err := h.validator.ValidateToken(ctx, auth.TokenFromRequest(r))
	if err != nil || userID <= 0 {
		return 0, nil, websocket.ClosePolicyViolation, "invalid token"
	}
	if groupID == 0 {
		return userID, nil, 0, ""
	}

	group, err := h.groups.GetGroup(ctx, groupID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return 0, nil, websocket.ClosePolicyViolation, "group not found"
		}
		zap.L().Error("group lookup failed", zap.Int("group_id", groupID), zap.Error(err))
		return 0, nil, websocket.CloseInternalServerErr, "internal error"
	}
	member, err := h.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		zap.L().Error("membership lookup failed", zap.Int("group_id", groupID), zap.Error(err))
		return 0, nil, websocket.CloseInternalServerErr, "internal error"
	}
	if !member {
		return 0, nil, websocket.ClosePolicyViolation, "not a group member"
	}
	return userID, &group, 0, ""
}
