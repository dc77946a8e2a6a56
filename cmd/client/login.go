package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	focusServer = iota
	focusUsername
	focusPassword
	focusPeer
	focusCount
)

const maxUsernameLen = 64

var loginLabels = [focusCount]string{"Server", "Username", "Password", "Chat with"}

type loginModel struct {
	inputs     [focusCount]textinput.Model
	focusIdx   int
	submitting bool
	loading    bool
	errMsg     string
	width      int
	height     int

	recent       []recentChat
	picking      bool
	pickIdx      int
	recentErrMsg string
}

func newField(placeholder string, limit int, value string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = limit
	in.Width = 40
	in.SetValue(value)
	return in
}

func newLoginModel(opts options) loginModel {
	m := loginModel{recent: loadRecent()}
	m.inputs[focusServer] = newField("http://localhost:8080", 256, opts.server)
	m.inputs[focusUsername] = newField("username", maxUsernameLen, opts.user)
	m.inputs[focusPassword] = newField("password", 72, "")
	m.inputs[focusPassword].EchoMode = textinput.EchoPassword
	m.inputs[focusPassword].EchoCharacter = '*'
	m.inputs[focusPeer] = newField("their username", maxUsernameLen, opts.peer)

	if opts.server == "" && len(m.recent) > 0 {
		m.applyRecent(m.recent[0])
	}
	m.focusIdx = m.firstEmpty()
	m.applyFocus()
	return m
}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m loginModel) serverURL() string { return m.inputs[focusServer].Value() }
func (m loginModel) username() string  { return m.inputs[focusUsername].Value() }
func (m loginModel) password() string  { return m.inputs[focusPassword].Value() }
func (m loginModel) peer() string      { return m.inputs[focusPeer].Value() }

func (m loginModel) entry() recentChat {
	return recentChat{Server: m.serverURL(), User: m.username(), Peer: m.peer()}
}

func (m loginModel) firstEmpty() int {
	for i := range m.inputs {
		if strings.TrimSpace(m.inputs[i].Value()) == "" {
			return i
		}
	}
	return focusServer
}

// applyRecent fills the server and any blank user or peer field.
func (m *loginModel) applyRecent(r recentChat) {
	m.inputs[focusServer].SetValue(r.Server)
	if r.User != "" && strings.TrimSpace(m.username()) == "" {
		m.inputs[focusUsername].SetValue(r.User)
	}
	if r.Peer != "" && strings.TrimSpace(m.peer()) == "" {
		m.inputs[focusPeer].SetValue(r.Peer)
	}
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case authErrorMsg:
		m.loading = false
		m.errMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		m.errMsg = ""
		if m.picking {
			m.pickKey(msg)
			return m, nil
		}
		switch key := msg.String(); key {
		case "tab", "down", "ctrl+n":
			m.moveFocus(1)
			return m, nil
		case "shift+tab", "up", "ctrl+p":
			m.moveFocus(-1)
			return m, nil
		case "ctrl+s":
			if len(m.recent) == 0 {
				m.errMsg = "no recent conversations yet"
				return m, nil
			}
			m.picking, m.pickIdx, m.recentErrMsg = true, 0, ""
			return m, nil
		case "enter":
			if m.loading {
				return m, nil
			}
			if problem := m.validateSubmit(); problem != "" {
				m.errMsg = problem
				return m, nil
			}
			m.loading, m.submitting = true, true
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
	return m, cmd
}

func (m *loginModel) pickKey(msg tea.KeyMsg) {
	if len(m.recent) == 0 {
		m.picking = false
		return
	}
	switch msg.String() {
	case "up", "k":
		m.pickIdx = max(0, m.pickIdx-1)
	case "down", "j":
		m.pickIdx = min(len(m.recent)-1, m.pickIdx+1)
	case "enter":
		// A picked entry replaces whatever was typed.
		m.inputs[focusUsername].SetValue("")
		m.inputs[focusPeer].SetValue("")
		m.applyRecent(m.recent[m.pickIdx])
		m.picking = false
		m.focusIdx = m.firstEmpty()
		m.applyFocus()
	case "x":
		if err := forgetRecent(); err != nil {
			m.recentErrMsg = fmt.Sprintf("forget recent: %v", err)
			return
		}
		m.recent = nil
		m.picking = false
	case "esc":
		m.picking = false
	}
}

func (m *loginModel) applyFocus() {
	for i := range m.inputs {
		if i == m.focusIdx {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m *loginModel) moveFocus(dir int) {
	m.focusIdx = (m.focusIdx + dir + focusCount) % focusCount
	m.applyFocus()
}

func (m loginModel) View() string {
	labelWidth := 0
	for _, label := range loginLabels {
		labelWidth = max(labelWidth, len(label))
	}

	rows := []string{
		appNameStyle.Render("*  parley"),
		subtitleStyle.Render("one-to-one chat"),
		"",
		headerStyle.Render("[ Login ]"),
		"",
	}
	for i, in := range m.inputs {
		rows = append(rows, labelStyle.Render(fmt.Sprintf("%-*s: ", labelWidth, loginLabels[i]))+in.View())
	}
	rows = append(rows, "")

	if m.picking {
		rows = append(rows, labelStyle.Render("Recent conversations (enter: pick, x: forget all, esc: back)"))
		for i, r := range m.recent {
			cursor := "  "
			if i == m.pickIdx {
				cursor = "> "
			}
			label := r.label()
			if m.width > 0 {
				label = trimLine(label, clampMin(m.width-6, 20))
			}
			rows = append(rows, labelStyle.Render(cursor+label))
		}
		rows = append(rows, "")
	}
	switch {
	case m.errMsg != "":
		rows = append(rows, errorStyle.Render("x "+m.errMsg), "")
	case m.recentErrMsg != "":
		rows = append(rows, errorStyle.Render("x "+m.recentErrMsg), "")
	}
	if m.loading {
		rows = append(rows, labelStyle.Render("connecting..."), "")
	}
	rows = append(rows, helpStyle.Render("tab: next field - ctrl+s: recent - enter: submit - ctrl+q: quit"))

	form := lipgloss.JoinVertical(lipgloss.Left, rows...)
	if m.width <= 0 || m.height <= 0 {
		return form
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m loginModel) validateSubmit() string {
	if strings.TrimSpace(m.serverURL()) == "" {
		return "server url is required"
	}
	username := strings.TrimSpace(m.username())
	if username == "" || m.password() == "" {
		return "username and password are required"
	}
	peer := strings.TrimSpace(m.peer())
	if peer == "" {
		return "who do you want to chat with?"
	}
	if strings.EqualFold(peer, username) {
		return "you cannot open a conversation with yourself"
	}
	return ""
}
