package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Terminal 256-colour palette.
const (
	colorAccent  = lipgloss.Color("212")
	colorText    = lipgloss.Color("252")
	colorMuted   = lipgloss.Color("243")
	colorFaint   = lipgloss.Color("241")
	colorRule    = lipgloss.Color("238")
	colorOwn     = lipgloss.Color("114")
	colorPeer    = lipgloss.Color("69")
	colorHistory = lipgloss.Color("242")
	colorAlert   = lipgloss.Color("196")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

var (
	appNameStyle     = fg(colorAccent).Bold(true)
	activeInputStyle = fg(colorAccent).Bold(true)
	headerStyle      = fg(colorText).Bold(true)
	labelStyle       = fg(colorMuted)
	subtitleStyle    = fg(colorMuted).Italic(true)
	helpStyle        = fg(colorFaint)
	separatorStyle   = fg(colorRule)
	errorStyle       = fg(colorAlert).Bold(true)

	sentMsgStyle    = fg(colorOwn)
	recvMsgStyle    = fg(colorPeer)
	historyMsgStyle = fg(colorHistory)
	unreadMsgStyle  = fg(colorPeer).Bold(true)

	connectedStyle    = fg(colorOwn)
	disconnectedStyle = fg(colorAlert)
)

func separator(width int) string {
	return separatorStyle.Render("  " + strings.Repeat("─", clampMin(width-4, 1)))
}
