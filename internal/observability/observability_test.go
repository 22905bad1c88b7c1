package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type capturePublisher struct {
	keys     []string
	messages []interface{}
	headers  []map[string]string
	err      error
}

func (p *capturePublisher) PublishJSON(_ context.Context, routingKey string, message interface{}, headers map[string]string) error {
	p.keys = append(p.keys, routingKey)
	p.messages = append(p.messages, message)
	p.headers = append(p.headers, headers)
	return p.err
}

func TestPublishWSEventRoutesByKind(t *testing.T) {
	pub := &capturePublisher{}
	SetPublisher(pub)
	defer SetPublisher(nil)

	PublishWSEvent(context.Background(), WSEvent{Kind: "direct", Event: "ws_connect", UserID: 1, RequestID: "r1"})
	PublishWSEvent(context.Background(), WSEvent{Kind: "group", ResourceID: 9, Event: "ws_disconnect", ConnectedAt: time.Now()})

	require.Len(t, pub.keys, 2)
	assert.Equal(t, RoutingKeyDirect, pub.keys[0])
	assert.Equal(t, RoutingKeyGroups, pub.keys[1])
	assert.Equal(t, "r1", pub.headers[0]["x-request-id"])

	envelope, ok := pub.messages[1].(EventEnvelope)
	require.True(t, ok)
	assert.Equal(t, "ws_disconnect", envelope.EventName)
}

func TestPublishEventCountsErrors(t *testing.T) {
	SetPublisher(&capturePublisher{err: errors.New("closed")})
	defer SetPublisher(nil)

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	err := PublishEvent(context.Background(), "k", "v", nil)
	assert.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), "k", "v", nil))
}

func TestHTTPMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/groups/:group_id/online", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/groups/:group_id/online", "200"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/groups/4/online", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/groups/:group_id/online", "200"))

	assert.Equal(t, before+1, after)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Real-Ip", "5.6.7.8")
	assert.Equal(t, "5.6.7.8", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", IPFromRequest(req))
}

func TestDeviceIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?device_id=web-1", nil)
	assert.Equal(t, "web-1", DeviceIDFromRequest(req))

	req.Header.Set("X-Device-Id", "ios-2")
	assert.Equal(t, "ios-2", DeviceIDFromRequest(req))
}

func TestInitTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "messaging-service", "test", "")
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, _ = splitFullMethod("bogus")
	assert.Equal(t, "unknown", service)
}
