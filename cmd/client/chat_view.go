package main

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Rows taken by the header, two rules, the input and the status line.
const chromeRows = 7

func (m *chatModel) resize() {
	m.viewport.Width = clampMin(m.width-4, 10)
	m.viewport.Height = clampMin(m.height-chromeRows, 1)
	m.input.Width = clampMin(m.width-8, 20)
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m chatModel) renderMessages() string {
	if len(m.messages) == 0 {
		return labelStyle.Render("  No messages yet. Send one to start chatting!")
	}
	entries := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		entries = append(entries, renderEntry(msg, m.viewport.Width))
	}
	return strings.Join(entries, "\n")
}

func entryStyle(msg chatMessage) lipgloss.Style {
	switch {
	case msg.isSystem:
		return labelStyle
	case msg.isHistory && msg.unread:
		return unreadMsgStyle
	case msg.isHistory:
		return historyMsgStyle
	case msg.isMine:
		return sentMsgStyle
	default:
		return recvMsgStyle
	}
}

// renderEntry lays out one message with its body wrapped to the space left
// after the "[hh:mm] sender: " prefix.
func renderEntry(msg chatMessage, width int) string {
	head := "  [" + clock(msg.at) + "] "
	if !msg.isSystem {
		head += msg.sender + ": "
	}
	bodyWidth := max(10, width-lipgloss.Width(head))
	body := lipgloss.NewStyle().Width(bodyWidth).Render(msg.body)
	return entryStyle(msg).Render(lipgloss.JoinHorizontal(lipgloss.Top, head, body))
}

func (m chatModel) View() string {
	title := "  " + appNameStyle.Render("* parley") + "  " +
		headerStyle.Render(m.auth.Username) + "  " + labelStyle.Render("with "+m.peer)
	status := connectedStyle.Render("online")
	if !m.connected {
		status = disconnectedStyle.Render("offline")
	}
	gap := max(1, m.width-lipgloss.Width(title)-lipgloss.Width(status)-2)

	footer := helpStyle.Render("  enter: send - /help in chat - pgup/pgdn: scroll - ctrl+q: quit")
	if m.errMsg != "" {
		footer = errorStyle.Render("  x " + m.errMsg)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title+strings.Repeat(" ", gap)+status,
		separator(m.width),
		m.viewport.View(),
		separator(m.width),
		activeInputStyle.Render("  > ")+m.input.View(),
		footer,
	)
}

func messageBody(text, media *string) string {
	var parts []string
	if text != nil && *text != "" {
		parts = append(parts, *text)
	}
	if media != nil && *media != "" {
		parts = append(parts, "[media] "+*media)
	}
	return strings.Join(parts, "\n")
}

// parseStamp returns the zero time for anything that is not RFC 3339.
func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

func dayStamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format("Jan 2 15:04")
}

func clampMin(v, minimum int) int {
	return max(v, minimum)
}

func trimLine(line string, limit int) string {
	if limit <= 0 || len(line) <= limit {
		return line
	}
	if limit <= 3 {
		return line[:limit]
	}
	return line[:limit-3] + "..."
}
