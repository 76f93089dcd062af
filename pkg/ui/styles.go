package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/chatwidget/pkg/connection"
	"github.com/go-go-golems/chatwidget/pkg/widget"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	agentStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func noticeStyle(level widget.NoticeLevel) lipgloss.Style {
	switch level {
	case widget.NoticeSuccess:
		return successStyle
	case widget.NoticeWarning:
		return warningStyle
	case widget.NoticeError:
		return errorStyle
	default:
		return infoStyle
	}
}

func stateStyle(state connection.State) lipgloss.Style {
	switch state {
	case connection.StateConnected:
		return successStyle
	case connection.StateConnecting, connection.StateReconnecting:
		return warningStyle
	default:
		return errorStyle
	}
}
