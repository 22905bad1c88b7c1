package ws

import (
	"time"

	"messaging-service/internal/observability"
)

// ConnInfo identifies one websocket session for logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	Kind        string
	ResourceID  int
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) event(name, reason string) observability.WSEvent {
	return observability.WSEvent{
		Kind:        i.Kind,
		ResourceID:  i.ResourceID,
		Event:       name,
		ConnID:      i.ConnID,
		UserID:      i.UserID,
		DeviceID:    i.DeviceID,
		IP:          i.IP,
		RequestID:   i.RequestID,
		TraceID:     i.TraceID,
		ConnectedAt: i.ConnectedAt,
		Reason:      reason,
	}
}
