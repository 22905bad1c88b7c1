package observability

import (
	"context"
	"time"
)

const (
	RoutingKeyDirect = "ws_events.direct"
	RoutingKeyGroups = "ws_events.groups"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSEvent describes one websocket lifecycle transition.
type WSEvent struct {
	Kind        string
	ResourceID  int
	Event       string
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
	Reason      string
}

// PublishWSEvent counts the event and publishes its envelope on the kind's routing key.
func PublishWSEvent(ctx context.Context, ev WSEvent) {
	IncWSEvent(ev.Kind, ev.Event)

	var durationMS int64
	if !ev.ConnectedAt.IsZero() && ev.Event != "ws_connect" {
		durationMS = time.Since(ev.ConnectedAt).Milliseconds()
	}

	routingKey := RoutingKeyDirect
	if ev.Kind == "group" {
		routingKey = RoutingKeyGroups
	}

	_ = PublishEvent(ctx, routingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        ev.Kind,
				"resource_id": ev.ResourceID,
				"event":       ev.Event,
				"conn_id":     ev.ConnID,
				"duration_ms": durationMS,
				"reason":      ev.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   ev.UserID,
				"device_id": ev.DeviceID,
				"ip":        ev.IP,
			},
		},
	}, BuildHeaders(ev.RequestID, ev.TraceID))
}
