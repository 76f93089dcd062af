package connection

import (
	"encoding/json"

	"github.com/go-go-golems/chatwidget/pkg/socketio"
	"github.com/pkg/errors"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

type EventKind string

const (
	EventState           EventKind = "state"
	EventConnect         EventKind = "connect"
	EventConnectError    EventKind = "connect_error"
	EventDisconnect      EventKind = "disconnect"
	EventReconnectFailed EventKind = "reconnect_failed"
	EventMessage         EventKind = "message"
)

// Event is a notification from the Manager. State is the manager state at
// the time the event was emitted.
type Event struct {
	Kind  EventKind
	State State
	// Name and Payload are set for EventMessage. Payload is the first event
	// argument, nil when the server sent none.
	Name    string
	Payload json.RawMessage
	Err     error
	// Retrying is set on EventConnectError when another attempt is scheduled.
	Retrying bool
}

// Reason is the human readable cause of a connect_error or disconnect.
func (e Event) Reason() string {
	if e.Err == nil {
		return ""
	}
	var ce *socketio.ConnectError
	if errors.As(e.Err, &ce) {
		return ce.Message
	}
	return errors.Cause(e.Err).Error()
}
