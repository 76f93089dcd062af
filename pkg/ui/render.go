package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/chatwidget/pkg/linkify"
	"github.com/go-go-golems/chatwidget/pkg/transcript"
	"github.com/go-go-golems/chatwidget/pkg/widget"
	"github.com/muesli/termenv"
)

// renderTranscript draws finalized messages followed by the reply being
// streamed. User messages are not linkified.
func renderTranscript(v widget.View, profile termenv.Profile, width int) string {
	blocks := make([]string, 0, len(v.Messages)+1)
	for _, msg := range v.Messages {
		blocks = append(blocks, renderMessage(msg, profile, width))
	}
	if v.Streaming && v.Partial != "" {
		blocks = append(blocks, agentStyle.Render("agent")+"\n"+wrap(partialStyle.Render(linkify.Terminal(v.Partial, profile)), width))
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(msg transcript.Message, profile termenv.Profile, width int) string {
	if msg.Role == transcript.RoleUser {
		return userStyle.Render("you") + "\n" + wrap(linkify.Sanitize(msg.Content), width)
	}
	return agentStyle.Render("agent") + "\n" + wrap(linkify.Terminal(msg.Content, profile), width)
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

// lastNotice returns the newest notice, if any.
func lastNotice(v widget.View) (widget.Notice, bool) {
	if len(v.Notices) == 0 {
		return widget.Notice{}, false
	}
	return v.Notices[len(v.Notices)-1], true
}
