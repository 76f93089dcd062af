// Package dispatcher turns user input into an optimistic transcript echo and
// an outbound query.
package dispatcher

import (
	"context"
	"strings"

	"github.com/go-go-golems/chatwidget/pkg/assembler"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrEmptyInput = errors.New("empty input")

// Sender is the outbound side of the connection manager.
type Sender interface {
	Send(event string, payload any) error
}

// TurnTracker is told when a query went out and a reply is awaited.
type TurnTracker interface {
	BeginTurn()
}

var _ Sender = &connection.Manager{}
var _ TurnTracker = &assembler.Assembler{}

// Query is the payload of the outbound message event.
type Query struct {
	Query string `json:"query"`
}

type Dispatcher struct {
	store  transcript.Store
	sender Sender
	turns  TurnTracker
	event  string
	echo   func(transcript.Message)
}

type Option func(*Dispatcher)

// WithTurnTracker sets the component whose thinking state follows submits.
func WithTurnTracker(t TurnTracker) Option {
	return func(d *Dispatcher) { d.turns = t }
}

// WithEvent overrides the outbound event name.
func WithEvent(name string) Option {
	return func(d *Dispatcher) {
		if strings.TrimSpace(name) != "" {
			d.event = name
		}
	}
}

// WithEcho registers a callback receiving each stored user echo, with the id
// and timestamp the store assigned.
func WithEcho(fn func(transcript.Message)) Option {
	return func(d *Dispatcher) { d.echo = fn }
}

func New(store transcript.Store, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, sender: sender, event: assembler.DefaultMessageEvent}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CanSubmit reports whether the send action is enabled for raw.
func CanSubmit(raw string) bool {
	return strings.TrimSpace(raw) != ""
}

// Submit echoes raw into the transcript and sends it. The echo is kept even
// when the send fails; there is no server acknowledgement to reconcile with.
func (d *Dispatcher) Submit(ctx context.Context, raw string) error {
	if d == nil || d.store == nil {
		return errors.New("dispatcher: nil dispatcher")
	}
	if !CanSubmit(raw) {
		return ErrEmptyInput
	}
	stored, err := d.store.Append(ctx, transcript.NewMessage(transcript.RoleUser, raw))
	if err != nil {
		return errors.Wrap(err, "dispatcher: append user message")
	}
	if d.echo != nil {
		d.echo(stored)
	}
	if d.sender == nil {
		return connection.ErrNotConnected
	}
	if err := d.sender.Send(d.event, Query{Query: raw}); err != nil {
		log.Warn().Str("component", "dispatcher").Err(err).Msg("query not sent")
		return err
	}
	if d.turns != nil {
		d.turns.BeginTurn()
	}
	return nil
}
