package connection

import (
	"time"

	"github.com/go-go-golems/chatwidget/pkg/socketio"
)

// Options configure the Manager. Start from DefaultOptions: the zero value
// disables reconnection.
type Options struct {
	Reconnection bool
	// ReconnectionAttempts bounds retries after a failure; negative retries forever.
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	// Timeout bounds each connection attempt.
	Timeout    time.Duration
	Transports []string
	Path       string
	// QueueWhileDisconnected buffers Send calls until the next connect
	// instead of rejecting them.
	QueueWhileDisconnected bool
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

const maxQueued = 64

func DefaultOptions() Options {
	return Options{
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
		Timeout:              10 * time.Second,
		Transports:           []string{socketio.TransportWebsocket, socketio.TransportPolling},
		Path:                 socketio.DefaultPath,
		EventBuffer:          256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = d.ReconnectionDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if len(o.Transports) == 0 {
		o.Transports = d.Transports
	}
	if o.Path == "" {
		o.Path = d.Path
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}
