// Package ui contains the terminal front ends of the chat widget: a bubbletea
// model for interactive terminals and a plain line mode for pipes.
package ui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	bspinner "github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/linkify"
	"github.com/go-go-golems/chatwidget/pkg/widget"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
)

// chrome is the number of lines around the transcript viewport.
const chrome = 5

type eventMsg connection.Event

func waitForEvent(ch <-chan connection.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

type Option func(*Model)

// WithProfile overrides the colour profile used for links.
func WithProfile(p termenv.Profile) Option {
	return func(m *Model) { m.profile = p }
}

// WithClipboard replaces the system clipboard used by ctrl+y.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) { m.copy = write }
}

// Model is the interactive chat. It is the single owner of the session while
// the program runs.
type Model struct {
	ctx     context.Context
	session *widget.Session
	events  <-chan connection.Event
	profile termenv.Profile
	copy    func(string) error

	input    textinput.Model
	viewport viewport.Model
	spinner  bspinner.Model
	view     widget.View
	width    int
}

func NewModel(ctx context.Context, session *widget.Session, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Type your message..."
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := bspinner.New()
	sp.Spinner = bspinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	vp := viewport.New(80, 15)
	vp.Style = lipgloss.NewStyle()

	m := Model{
		ctx:      ctx,
		session:  session,
		events:   session.Events(),
		profile:  termenv.ColorProfile(),
		copy:     clipboard.WriteAll,
		input:    ti,
		viewport: vp,
		spinner:  sp,
	}
	for _, o := range opts {
		o(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		m.viewport.Width = ev.Width
		m.viewport.Height = max(ev.Height-chrome, 3)
		m.input.Width = max(ev.Width-4, 10)
		m.refresh()
		return m, nil

	case eventMsg:
		if _, err := m.session.HandleEvent(m.ctx, connection.Event(ev)); err != nil {
			log.Error().Err(err).Str("component", "ui").Msg("handle event failed")
			m.session.Notify(widget.NoticeError, err.Error())
		}
		m.refresh()
		return m, tea.Batch(m.tick(), waitForEvent(m.events))

	case bspinner.TickMsg:
		if !m.view.Thinking {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+y":
			m.copyLastReply()
			m.refresh()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	value := m.input.Value()
	if !m.session.CanSubmit(value) {
		return m, nil
	}
	if err := m.session.Submit(m.ctx, value); err != nil {
		log.Debug().Err(err).Str("component", "ui").Msg("submit failed")
	}
	m.input.Reset()
	m.refresh()
	return m, m.tick()
}

func (m *Model) copyLastReply() {
	last, ok := m.session.LastAgentMessage(m.ctx)
	if !ok {
		m.session.Notify(widget.NoticeInfo, "Nothing to copy yet")
		return
	}
	if err := m.copy(last.Content); err != nil {
		m.session.Notify(widget.NoticeError, "Copy failed: "+err.Error())
		return
	}
	m.session.Notify(widget.NoticeSuccess, "Copied last reply")
}

// tick restarts the spinner when a reply is pending.
func (m Model) tick() tea.Cmd {
	if !m.view.Thinking {
		return nil
	}
	return m.spinner.Tick
}

func (m *Model) refresh() {
	m.view = m.session.View(m.ctx)
	m.viewport.SetContent(renderTranscript(m.view, m.profile, m.width))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Chat"))
	sb.WriteString("  ")
	sb.WriteString(stateStyle(m.view.State).Render(string(m.view.State)))
	if n, ok := lastNotice(m.view); ok {
		sb.WriteString("  ")
		sb.WriteString(noticeStyle(n.Level).Render(linkify.Sanitize(n.Text)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")
	if m.view.Thinking {
		sb.WriteString(m.spinner.View() + " thinking...")
	}
	sb.WriteString("\n")
	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	help := "enter send • ctrl+y copy reply • pgup/pgdown scroll • esc quit"
	if !m.session.CanSubmit(m.input.Value()) {
		help = "type a message • ctrl+y copy reply • pgup/pgdown scroll • esc quit"
	}
	sb.WriteString(helpStyle.Render(help))
	return sb.String()
}
