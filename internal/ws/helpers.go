package ws

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func newConnID() string {
	return uuid.NewString()
}

func parsePositiveID(raw string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// isExpectedClose reports closes that are part of a normal session end.
func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
