package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const authTimeout = 10 * time.Second

type screen int

const (
	screenLogin screen = iota
	screenChat
)

type rootModel struct {
	api    *APIClient
	screen screen
	login  loginModel
	chat   chatModel
	width  int
	height int
}

type authSuccessMsg struct {
	auth    *AuthResponse
	peer    string
	history []HistoryMessage
}

type authErrorMsg struct {
	err error
}

func newRootModel(api *APIClient, opts options) rootModel {
	return rootModel{api: api, screen: screenLogin, login: newLoginModel(opts)}
}

func (m rootModel) Init() tea.Cmd {
	return m.login.Init()
}

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if msg.String() == "ctrl+q" {
			if m.screen == screenChat {
				m.chat.shutdown()
			}
			return m, tea.Quit
		}
	case authSuccessMsg:
		return m.openChat(msg)
	}

	var cmd tea.Cmd
	if m.screen == screenChat {
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	m.login, cmd = m.login.Update(msg)
	if !m.login.submitting {
		return m, cmd
	}
	m.login.submitting = false
	m.api.serverURL = strings.TrimRight(strings.TrimSpace(m.login.serverURL()), "/")
	return m, tea.Batch(cmd, authenticate(m.api, m.login.username(), m.login.password(), m.login.peer()))
}

func (m rootModel) openChat(msg authSuccessMsg) (tea.Model, tea.Cmd) {
	m.login.recent = rememberRecent(m.login.recent, m.login.entry())
	_ = saveRecent(m.login.recent)

	m.screen = screenChat
	m.chat = newChatModel(m.api, msg.auth, msg.peer, msg.history, m.width, m.height)
	return m, m.chat.Init()
}

func (m rootModel) View() string {
	if m.screen == screenChat {
		return m.chat.View()
	}
	return m.login.View()
}

// authenticate logs in and loads the conversation history before the chat
// view opens, so an unknown or unconnected peer is reported on the login
// screen. The fresh token is revoked when the history cannot be loaded.
func authenticate(api *APIClient, username, password, peer string) tea.Cmd {
	username = strings.TrimSpace(username)
	peer = strings.TrimSpace(peer)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()

		resp, err := api.Login(ctx, username, password)
		if err != nil {
			return authErrorMsg{err: err}
		}
		history, err := api.History(ctx, resp.Token, peer)
		if err != nil {
			_ = api.Logout(ctx, resp.Token)
			return authErrorMsg{err: fmt.Errorf("open conversation with %s: %w", peer, err)}
		}
		return authSuccessMsg{auth: resp, peer: peer, history: history}
	}
}
