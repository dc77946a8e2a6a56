package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	eventBuffer  = 64
	listTimeout  = 5 * time.Second
	chatHelpText = "/media <url> | /list | /help"
)

var errConnectionClosed = errors.New("connection closed")

type chatMessage struct {
	sender    string
	body      string
	at        time.Time
	isHistory bool
	isMine    bool
	isSystem  bool
	unread    bool
}

type chatModel struct {
	api  *APIClient
	auth *AuthResponse
	peer string

	ws        *WSClient
	events    chan ServerEvent
	connected bool
	joined    bool

	messages []chatMessage
	viewport viewport.Model
	input    textinput.Model
	errMsg   string
	width    int
	height   int
}

type wsConnectedMsg struct {
	ws     *WSClient
	events chan ServerEvent
}

type wsEventMsg ServerEvent

type wsErrorMsg struct{ err error }

func newChatModel(api *APIClient, auth *AuthResponse, peer string, history []HistoryMessage, width, height int) chatModel {
	input := textinput.New()
	input.Placeholder = "type a message..."
	input.CharLimit = 4096
	input.Focus()

	m := chatModel{
		api:      api,
		auth:     auth,
		peer:     peer,
		viewport: viewport.New(1, 1),
		input:    input,
		width:    width,
		height:   height,
	}
	m.messages = make([]chatMessage, 0, len(history))
	for _, h := range history {
		m.messages = append(m.messages, chatMessage{
			sender:    h.Sender.displayName(),
			body:      messageBody(h.Text, h.Media),
			at:        parseStamp(h.CreatedAt),
			isHistory: true,
			unread:    !h.Read,
		})
	}
	m.resize()
	m.refreshViewport()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, dialConversation(m.api.serverURL, m.auth.Token, m.peer))
}

func dialConversation(serverURL, token, peer string) tea.Cmd {
	return func() tea.Msg {
		ws, err := ConnectWS(serverURL, token, peer)
		if err != nil {
			return wsErrorMsg{err: err}
		}
		events := make(chan ServerEvent, eventBuffer)
		go ws.ReadLoop(events)
		return wsConnectedMsg{ws: ws, events: events}
	}
}

func nextEvent(events <-chan ServerEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return wsErrorMsg{err: errConnectionClosed}
		}
		return wsEventMsg(ev)
	}
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refreshViewport()
		return m, nil

	case wsConnectedMsg:
		m.ws, m.events = msg.ws, msg.events
		m.connected = true
		m.errMsg = ""
		return m, nextEvent(m.events)

	case wsEventMsg:
		m.handleServerEvent(ServerEvent(msg))
		m.refreshViewport()
		return m, nextEvent(m.events)

	case wsErrorMsg:
		m.connected, m.joined = false, false
		m.errMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			// Nothing is sent before the server confirms the join.
			if m.joined {
				m.submit()
			}
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

func (m *chatModel) submit() {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.ws == nil {
		return
	}
	defer m.input.Reset()
	if strings.HasPrefix(line, "/") {
		m.handleCommand(line)
		return
	}
	m.send(OutgoingMessage{Text: &line})
}

func (m *chatModel) send(out OutgoingMessage) {
	out.Sender = m.auth.Username
	if err := m.ws.Send(out); err != nil {
		m.errMsg = fmt.Sprintf("send: %v", err)
	}
}

func (m *chatModel) handleCommand(line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/media":
		if arg == "" {
			m.notice("usage: /media <url>")
			return
		}
		m.send(OutgoingMessage{Media: &arg})
	case "/list":
		m.listConversations()
	case "/help":
		m.notice(chatHelpText)
	default:
		m.notice("unknown command")
	}
}

func (m *chatModel) listConversations() {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	convs, err := m.api.Conversations(ctx, m.auth.Token)
	if err != nil {
		m.errMsg = fmt.Sprintf("list conversations: %v", err)
		return
	}
	if len(convs) == 0 {
		m.notice("no conversations yet")
		return
	}
	lines := make([]string, 0, len(convs)+1)
	lines = append(lines, "conversations:")
	for _, c := range convs {
		lines = append(lines, fmt.Sprintf("  %s (last activity %s)", c.Peer, dayStamp(parseStamp(c.UpdatedAt))))
	}
	m.notice(strings.Join(lines, "\n"))
}

func (m *chatModel) handleServerEvent(ev ServerEvent) {
	switch {
	case ev.Error != "":
		m.errMsg = ev.Error
	case ev.Message != "":
		m.joined = true
		m.notice(fmt.Sprintf("%s with %s", ev.Message, m.peer))
	case ev.isChat():
		m.messages = append(m.messages, chatMessage{
			sender: ev.Sender,
			body:   messageBody(ev.Text, ev.Media),
			at:     time.Now(),
			isMine: ev.Sender == m.auth.Username,
		})
	}
}

func (m *chatModel) notice(text string) {
	m.messages = append(m.messages, chatMessage{body: text, at: time.Now(), isSystem: true})
	m.refreshViewport()
}

// shutdown closes the socket and revokes the session token.
func (m *chatModel) shutdown() {
	if m.ws != nil {
		m.ws.Close()
	}
	if m.auth == nil || m.auth.Token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = m.api.Logout(ctx, m.auth.Token)
}
