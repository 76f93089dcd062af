package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/dispatcher"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/go-go-golems/chatwidget/pkg/widget"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu     sync.Mutex
	state  connection.State
	events chan connection.Event
	sent   []string
	// reply is pushed as response fragments after every send
	reply []string
}

func newStubConn(state connection.State) *stubConn {
	return &stubConn{state: state, events: make(chan connection.Event, 32)}
}

func (c *stubConn) Connect(context.Context, string) error { return nil }
func (c *stubConn) Disconnect()                           {}
func (c *stubConn) Events() <-chan connection.Event       { return c.events }

func (c *stubConn) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *stubConn) setState(s connection.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *stubConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connection.StateConnected {
		return connection.ErrNotConnected
	}
	q := payload.(dispatcher.Query)
	c.sent = append(c.sent, q.Query)
	for _, f := range c.reply {
		c.events <- responseEvent(f)
	}
	if len(c.reply) > 0 {
		c.events <- connection.Event{Kind: connection.EventMessage, Name: "response_end"}
	}
	return nil
}

func (c *stubConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func responseEvent(fragment string) connection.Event {
	b, _ := json.Marshal(map[string]string{"message": fragment})
	return connection.Event{Kind: connection.EventMessage, Name: "response", Payload: b}
}

func newTestSession(t *testing.T, conn *stubConn) *widget.Session {
	t.Helper()
	s, err := widget.NewSession(context.Background(), conn, transcript.NewInMemoryStore(), widget.Options{
		Greeting: widget.DefaultGreeting,
	})
	require.NoError(t, err)
	return s
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func press(t *testing.T, m Model, k tea.KeyType) Model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: k})
	return next.(Model)
}

func feed(t *testing.T, m Model, ev connection.Event) Model {
	t.Helper()
	next, _ := m.Update(eventMsg(ev))
	return next.(Model)
}

func TestModel_SubmitStreamAndCopy(t *testing.T) {
	conn := newStubConn(connection.StateConnected)
	s := newTestSession(t, conn)
	var copied string
	m := NewModel(context.Background(), s,
		WithProfile(termenv.Ascii),
		WithClipboard(func(text string) error { copied = text; return nil }))

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	require.Contains(t, m.View(), widget.DefaultGreeting)

	m = typeText(t, m, "hello")
	m = press(t, m, tea.KeyEnter)
	require.Equal(t, []string{"hello"}, conn.Sent())
	require.True(t, m.view.Thinking)
	require.Empty(t, m.input.Value())
	require.Contains(t, m.View(), "thinking...")

	m = feed(t, m, responseEvent("See [docs](https://x.test/a)"))
	require.False(t, m.view.Thinking)
	require.True(t, m.view.Streaming)

	m = feed(t, m, connection.Event{Kind: connection.EventMessage, Name: "response_end"})
	require.False(t, m.view.Streaming)
	require.Len(t, m.view.Messages, 3)
	require.Contains(t, m.viewport.View(), "See docs <https://x.test/a>")

	m = press(t, m, tea.KeyCtrlY)
	require.Equal(t, "See [docs](https://x.test/a)", copied)
	n, ok := lastNotice(m.view)
	require.True(t, ok)
	require.Equal(t, "Copied last reply", n.Text)
}

func TestModel_WhitespaceIsNotSent(t *testing.T) {
	conn := newStubConn(connection.StateConnected)
	m := NewModel(context.Background(), newTestSession(t, conn), WithProfile(termenv.Ascii))

	m = typeText(t, m, "   ")
	require.Contains(t, m.View(), "type a message")
	m = press(t, m, tea.KeyEnter)

	require.Empty(t, conn.Sent())
	require.Len(t, m.view.Messages, 1)
	require.Equal(t, "   ", m.input.Value())
}

func TestModel_SubmitWhileDisconnected(t *testing.T) {
	conn := newStubConn(connection.StateDisconnected)
	m := NewModel(context.Background(), newTestSession(t, conn), WithProfile(termenv.Ascii))

	m = typeText(t, m, "anyone?")
	m = press(t, m, tea.KeyEnter)

	require.Empty(t, conn.Sent())
	require.Len(t, m.view.Messages, 2)
	require.False(t, m.view.Thinking)
	require.Contains(t, m.View(), "Connection not established yet!")
}

func TestModel_QuitKeys(t *testing.T) {
	m := NewModel(context.Background(), newTestSession(t, newStubConn(connection.StateConnected)))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestRenderTranscript(t *testing.T) {
	v := widget.View{
		Messages: []transcript.Message{
			{Role: transcript.RoleUser, Content: "open https://x.test/u"},
			{Role: transcript.RoleAgent, Content: "Visit https://x.test/a."},
		},
		Partial:   "still [typing](https://x.test/p)",
		Streaming: true,
	}
	out := renderTranscript(v, termenv.Ascii, 0)

	require.Contains(t, out, "open https://x.test/u")
	require.Contains(t, out, "Visit https://x.test/a.")
	require.Contains(t, out, "still typing <https://x.test/p>")
	require.Equal(t, 3, strings.Count(out, "\n\n")+1)
}

func TestLineMode_PrintsReplyAndExitsAfterEOF(t *testing.T) {
	conn := newStubConn(connection.StateConnected)
	conn.reply = []string{"Hello", " world", "Relevant context retrieved and sent to OpenAI for processing."}
	s := newTestSession(t, conn)

	var out bytes.Buffer
	err := NewLineMode(s, strings.NewReader("hello\n\n"), &out, termenv.Ascii).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"hello"}, conn.Sent())
	require.Contains(t, out.String(), "agent> "+widget.DefaultGreeting+"\n")
	require.Contains(t, out.String(), "agent> Hello world\n")
	require.NotContains(t, out.String(), "Relevant context")
}

func TestLineMode_HoldsLinesUntilConnected(t *testing.T) {
	conn := newStubConn(connection.StateConnecting)
	conn.reply = []string{"See [docs](https://x.test/a) now"}
	s := newTestSession(t, conn)

	go func() {
		conn.setState(connection.StateConnected)
		conn.events <- connection.Event{Kind: connection.EventConnect, State: connection.StateConnected}
	}()

	var out bytes.Buffer
	err := NewLineMode(s, strings.NewReader("hi\n"), &out, termenv.Ascii).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"hi"}, conn.Sent())
	require.Contains(t, out.String(), "[success] Socket connected\n")
	require.Contains(t, out.String(), "  link: docs <https://x.test/a>\n")
}

func TestLineMode_ConnectionRefusedWithoutReconnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := connection.DefaultOptions()
	opts.Reconnection = false
	opts.Timeout = 2 * time.Second
	s, err := widget.NewSession(ctx, connection.NewManager(opts), transcript.NewInMemoryStore(), widget.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, "http://127.0.0.1:1/chat-bot"))
	t.Cleanup(s.Stop)

	var out bytes.Buffer
	err = NewLineMode(s, strings.NewReader("hi\n"), &out, termenv.Ascii).Run(ctx)
	require.Error(t, err)
	require.NoError(t, ctx.Err(), "line mode should stop on its own")
	require.Contains(t, err.Error(), "reconnection disabled")

	require.Contains(t, out.String(), "[error] Connection not established yet!\n")
	require.NotContains(t, out.String(), "Retrying")
	require.Equal(t, connection.StateDisconnected, s.View(ctx).State)
}

func TestLineMode_SubmitsDirectlyAfterGivingUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := newStubConn(connection.StateReconnecting)
	s := newTestSession(t, conn)
	pr, pw := io.Pipe()
	go func() {
		_, _ = io.WriteString(pw, "first\n")
		conn.setState(connection.StateDisconnected)
		conn.events <- connection.Event{Kind: connection.EventReconnectFailed, State: connection.StateDisconnected, Err: errors.New("gave up")}
		_, _ = io.WriteString(pw, "second\n")
		_ = pw.Close()
	}()

	var out bytes.Buffer
	err := NewLineMode(s, pr, &out, termenv.Ascii).Run(ctx)
	require.Error(t, err)
	require.NoError(t, ctx.Err())

	require.Empty(t, conn.Sent())
	require.Equal(t, 2, strings.Count(out.String(), "[error] Connection not established yet!\n"))
	require.Contains(t, out.String(), "[error] Unable to reconnect: gave up\n")
	require.Len(t, s.View(ctx).Messages, 3)
}

func TestLineMode_StripsEscapesFromReplies(t *testing.T) {
	conn := newStubConn(connection.StateConnected)
	conn.reply = []string{"safe\x1b]0;owned\x07", " text\x1b[2J", " [go](https://x.test/\x1b[31mz)"}
	s := newTestSession(t, conn)

	var out bytes.Buffer
	err := NewLineMode(s, strings.NewReader("hello\n"), &out, termenv.Ascii).Run(context.Background())
	require.NoError(t, err)

	require.NotContains(t, out.String(), "\x1b")
	require.NotContains(t, out.String(), "\x07")
	require.Contains(t, out.String(), "agent> safe text [go](https://x.test/z)\n")
	require.Contains(t, out.String(), "  link: go <https://x.test/z>\n")
}
