// Package widget is the chat session shared by the terminal front ends: it
// applies connection events to the transcript and keeps the status shown
// next to it.
package widget

import (
	"context"
	"fmt"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/assembler"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/dispatcher"
	"github.com/go-go-golems/chatwidget/pkg/eventbus"
	"github.com/go-go-golems/chatwidget/pkg/socketio"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGreeting = "Hi, what brings you here today?"

	textConnected       = "Socket connected"
	textDisconnected    = "Socket disconnected"
	textConnectionLost  = "Connection lost. Attempting to reconnect..."
	textNotEstablished  = "Connection not established yet!"
	textMissingEndpoint = "Socket URL is not defined"
)

// Connection is the part of connection.Manager the session drives.
type Connection interface {
	Connect(ctx context.Context, endpoint string) error
	Disconnect()
	Send(event string, payload any) error
	State() connection.State
	Events() <-chan connection.Event
}

var _ Connection = &connection.Manager{}

// Publisher mirrors session records; eventbus.Bus implements it.
type Publisher interface {
	Publish(r eventbus.Record) error
}

type Options struct {
	// Greeting is shown as the first agent message of a new transcript.
	// Empty disables it.
	Greeting   string
	Protocol   assembler.Protocol
	MaxNotices int
	// ConvID tags mirrored records.
	ConvID    string
	Publisher Publisher
}

// Update describes what one connection event changed.
type Update struct {
	Event   connection.Event
	Outcome assembler.Outcome
	Notice  *Notice
}

// View is a snapshot for rendering.
type View struct {
	Messages  []transcript.Message
	Partial   string
	Streaming bool
	Thinking  bool
	State     connection.State
	Notices   []Notice
}

// Session is driven from a single loop: HandleEvent and Submit are not meant
// to race each other, View may be called from anywhere.
type Session struct {
	conn       Connection
	store      transcript.Store
	asm        *assembler.Assembler
	dispatcher *dispatcher.Dispatcher
	notices    *noticeBuffer
	publisher  Publisher
	convID     string
}

func NewSession(ctx context.Context, conn Connection, store transcript.Store, opts Options) (*Session, error) {
	if conn == nil {
		return nil, errors.New("widget: nil connection")
	}
	if store == nil {
		return nil, errors.New("widget: nil transcript store")
	}
	protocol := opts.Protocol
	if protocol.ResponseEvent == "" {
		protocol = assembler.DefaultProtocol()
	}
	asm := assembler.New(store, protocol)
	s := &Session{
		conn:      conn,
		store:     store,
		asm:       asm,
		notices:   newNoticeBuffer(opts.MaxNotices),
		publisher: opts.Publisher,
		convID:    opts.ConvID,
	}
	s.dispatcher = dispatcher.New(store, conn,
		dispatcher.WithTurnTracker(asm),
		dispatcher.WithEvent(protocol.MessageEvent),
		dispatcher.WithEcho(func(m transcript.Message) { s.publish(messageRecord(m)) }))

	if opts.Greeting != "" {
		n, err := store.Len(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "widget: inspect transcript")
		}
		if n == 0 {
			if _, err := store.Append(ctx, transcript.NewMessage(transcript.RoleAgent, opts.Greeting)); err != nil {
				return nil, errors.Wrap(err, "widget: append greeting")
			}
		}
	}
	return s, nil
}

// Start begins connecting. A missing or invalid endpoint is reported as a
// notice and returned.
func (s *Session) Start(ctx context.Context, endpoint string) error {
	if err := s.conn.Connect(ctx, endpoint); err != nil {
		text := err.Error()
		if errors.Is(err, connection.ErrMissingEndpoint) {
			text = textMissingEndpoint
		}
		s.addNotice(NoticeError, text)
		return err
	}
	return nil
}

func (s *Session) Stop() {
	s.conn.Disconnect()
}

// Events exposes the connection events the session should be fed with.
func (s *Session) Events() <-chan connection.Event {
	return s.conn.Events()
}

// HandleEvent applies one connection event.
func (s *Session) HandleEvent(ctx context.Context, ev connection.Event) (Update, error) {
	u := Update{Event: ev}
	switch ev.Kind {
	case connection.EventState:
		s.publish(eventbus.Record{Kind: eventbus.RecordState, State: string(ev.State)})

	case connection.EventConnect:
		u.Notice = s.addNotice(NoticeSuccess, textConnected)

	case connection.EventConnectError:
		s.asm.ClearThinking()
		text := fmt.Sprintf("Connection error: %s.", ev.Reason())
		if ev.Retrying {
			text += " Retrying..."
		}
		u.Notice = s.addNotice(NoticeError, text)

	case connection.EventDisconnect:
		if dropped := s.asm.Abandon(); dropped != "" {
			log.Warn().Str("component", "widget").Int("len", len(dropped)).Msg("reply interrupted by disconnect")
		}
		if errors.Is(ev.Err, socketio.ErrClientClosed) {
			u.Notice = s.addNotice(NoticeWarning, textDisconnected)
		} else {
			u.Notice = s.addNotice(NoticeWarning, textConnectionLost)
		}

	case connection.EventReconnectFailed:
		s.asm.ClearThinking()
		u.Notice = s.addNotice(NoticeError, fmt.Sprintf("Unable to reconnect: %s", ev.Reason()))

	case connection.EventMessage:
		out, err := s.asm.HandleEvent(ctx, ev.Name, ev.Payload)
		if err != nil {
			return u, err
		}
		u.Outcome = out
		switch out.Action {
		case assembler.ActionAppended:
			s.publish(eventbus.Record{Kind: eventbus.RecordFragment, Role: string(transcript.RoleAgent), Content: out.Fragment})
		case assembler.ActionFinalized:
			s.publish(messageRecord(*out.Message))
		case assembler.ActionNone:
			log.Debug().Str("component", "widget").Str("event", ev.Name).Msg("ignoring unknown event")
		}
	}
	return u, nil
}

// Submit sends user input. Empty input is ignored; an unsent query keeps its
// echo and leaves a notice. The stored echo is mirrored as a message record.
func (s *Session) Submit(ctx context.Context, raw string) error {
	err := s.dispatcher.Submit(ctx, raw)
	switch {
	case errors.Is(err, dispatcher.ErrEmptyInput):
		return err
	case errors.Is(err, connection.ErrNotConnected):
		s.addNotice(NoticeError, textNotEstablished)
	case err != nil:
		s.addNotice(NoticeError, err.Error())
	}
	return err
}

// CanSubmit reports whether the send action should be enabled.
func (s *Session) CanSubmit(raw string) bool {
	return dispatcher.CanSubmit(raw)
}

func (s *Session) View(ctx context.Context) View {
	v := View{
		Partial:   s.asm.Content(),
		Streaming: s.asm.Streaming(),
		Thinking:  s.asm.Thinking(),
		State:     s.conn.State(),
		Notices:   s.notices.Snapshot(),
	}
	for m := range s.store.All(ctx) {
		v.Messages = append(v.Messages, m)
	}
	return v
}

// LastAgentMessage returns the newest finalized agent reply.
func (s *Session) LastAgentMessage(ctx context.Context) (transcript.Message, bool) {
	var last transcript.Message
	found := false
	for m := range s.store.All(ctx) {
		if m.Role == transcript.RoleAgent {
			last, found = m, true
		}
	}
	return last, found
}

// Run feeds connection events to HandleEvent until ctx is done, passing
// each update to onUpdate.
func (s *Session) Run(ctx context.Context, onUpdate func(Update)) error {
	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			u, err := s.HandleEvent(ctx, ev)
			if err != nil {
				log.Error().Err(err).Str("component", "widget").Msg("handle event failed")
				s.addNotice(NoticeError, err.Error())
			}
			if onUpdate != nil {
				onUpdate(u)
			}
		}
	}
}

// Notify records a front-end notice, e.g. a clipboard copy.
func (s *Session) Notify(level NoticeLevel, text string) Notice {
	return *s.addNotice(level, text)
}

func (s *Session) addNotice(level NoticeLevel, text string) *Notice {
	n := Notice{Level: level, Text: text, At: time.Now()}
	s.notices.Add(n)
	s.publish(eventbus.Record{Kind: eventbus.RecordNotice, Content: text, State: string(level)})
	return &n
}

func (s *Session) publish(r eventbus.Record) {
	if s.publisher == nil {
		return
	}
	r.ConvID = s.convID
	if err := s.publisher.Publish(r); err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("kind", string(r.Kind)).Msg("mirror publish failed")
	}
}

func messageRecord(m transcript.Message) eventbus.Record {
	return eventbus.Record{
		Kind:    eventbus.RecordMessage,
		ID:      m.ID,
		Role:    string(m.Role),
		Content: m.Content,
		At:      m.CreatedAt,
	}
}
