// Package assembler turns the agent's fragment stream into finalized
// transcript messages.
package assembler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sink receives finalized agent messages. transcript.Store implements it.
type Sink interface {
	Append(ctx context.Context, msg transcript.Message) (transcript.Message, error)
}

type Action string

const (
	// ActionNone means the event is not part of the response stream.
	ActionNone      Action = "none"
	ActionIgnored   Action = "ignored"
	ActionAppended  Action = "appended"
	ActionFinalized Action = "finalized"
	// ActionNoop is a terminal signal that found nothing to finalize.
	ActionNoop Action = "noop"
)

type Outcome struct {
	Action Action
	// Fragment is the text appended for ActionAppended.
	Fragment string
	// Message is the stored message for ActionFinalized.
	Message *transcript.Message
}

// Assembler holds the single in-progress agent reply. Turns are assumed to
// be sequential: a new fragment after a terminal signal starts a new reply.
type Assembler struct {
	protocol Protocol
	sink     Sink

	mu       sync.Mutex
	buf      strings.Builder
	live     bool
	thinking bool
}

func New(sink Sink, protocol Protocol) *Assembler {
	return &Assembler{protocol: protocol, sink: sink}
}

func (a *Assembler) Protocol() Protocol { return a.protocol }

// HandleEvent routes an inbound application event. Events other than the
// configured response and response-end events return ActionNone.
func (a *Assembler) HandleEvent(ctx context.Context, name string, payload json.RawMessage) (Outcome, error) {
	if name == a.protocol.ResponseEvent {
		text, err := ParseFragment(payload)
		if err != nil {
			log.Warn().Str("component", "assembler").Err(err).Msg("dropping malformed response")
			return Outcome{Action: ActionIgnored}, nil
		}
		return a.Fragment(ctx, text)
	}
	if a.protocol.ResponseEndEvent != "" && name == a.protocol.ResponseEndEvent {
		return a.End(ctx)
	}
	return Outcome{Action: ActionNone}, nil
}

// Fragment applies one response fragment.
func (a *Assembler) Fragment(ctx context.Context, text string) (Outcome, error) {
	if a == nil {
		return Outcome{}, errors.New("assembler: nil assembler")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.protocol.isIgnorable(text):
		return Outcome{Action: ActionIgnored}, nil
	case a.protocol.isEndSentinel(text):
		a.thinking = false
		return a.finalizeLocked(ctx)
	}

	a.buf.WriteString(text)
	a.live = true
	a.thinking = false
	return Outcome{Action: ActionAppended, Fragment: text}, nil
}

// End applies the dedicated end-of-stream event.
func (a *Assembler) End(ctx context.Context) (Outcome, error) {
	if a == nil {
		return Outcome{}, errors.New("assembler: nil assembler")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thinking = false
	return a.finalizeLocked(ctx)
}

func (a *Assembler) finalizeLocked(ctx context.Context) (Outcome, error) {
	content := a.buf.String()
	if content == "" {
		a.live = false
		return Outcome{Action: ActionNoop}, nil
	}
	if a.sink == nil {
		return Outcome{}, errors.New("assembler: no sink")
	}
	msg, err := a.sink.Append(ctx, transcript.NewMessage(transcript.RoleAgent, content))
	if err != nil {
		// the buffer is kept so the next terminal signal can retry
		return Outcome{}, errors.Wrap(err, "assembler: append agent message")
	}
	a.buf.Reset()
	a.live = false
	return Outcome{Action: ActionFinalized, Message: &msg}, nil
}

// Abandon drops a partial reply without finalizing it and returns what was
// dropped.
func (a *Assembler) Abandon() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	content := a.buf.String()
	a.buf.Reset()
	a.live = false
	a.thinking = false
	if content != "" {
		log.Debug().Str("component", "assembler").Int("len", len(content)).Msg("abandoned partial reply")
	}
	return content
}

// BeginTurn marks that a query was sent and a reply is awaited.
func (a *Assembler) BeginTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thinking = true
}

func (a *Assembler) ClearThinking() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thinking = false
}

// Streaming reports whether a reply is being assembled.
func (a *Assembler) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

func (a *Assembler) Thinking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thinking
}

// Content is the text of the in-progress reply.
func (a *Assembler) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}
