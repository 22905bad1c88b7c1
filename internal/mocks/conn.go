package mocks

import (
	"encoding/json"
	"errors"
	"sync"
)

// RecordingConn is an in-memory connection handle that records every event
// it is sent as decoded JSON.
type RecordingConn struct {
	mu      sync.Mutex
	events  []map[string]any
	closed  bool
	failing bool
}

func NewRecordingConn() *RecordingConn {
	return &RecordingConn{}
}

// Fail makes every following Send return an error.
func (c *RecordingConn) Fail() {
	c.mu.Lock()
	c.failing = true
	c.mu.Unlock()
}

func (c *RecordingConn) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.failing {
		return errors.New("write failed")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	c.events = append(c.events, decoded)
	return nil
}

func (c *RecordingConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of the recorded events.
func (c *RecordingConn) Events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the type discriminator of each recorded event in order.
func (c *RecordingConn) Types() []string {
	events := c.Events()
	types := make([]string, 0, len(events))
	for _, ev := range events {
		if t, ok := ev["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}
