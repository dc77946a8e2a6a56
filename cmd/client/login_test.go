package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func filledLogin(t *testing.T) loginModel {
	t.Helper()
	setTestConfigDir(t)
	m := newLoginModel(options{server: "http://server", user: "alice", peer: "bob"})
	m.inputs[focusPassword].SetValue("password")
	return m
}

func TestLoginValidateSubmit(t *testing.T) {
	m := filledLogin(t)
	if msg := m.validateSubmit(); msg != "" {
		t.Fatalf("unexpected error: %s", msg)
	}

	m.inputs[focusPeer].SetValue("")
	if msg := m.validateSubmit(); msg == "" {
		t.Fatalf("expected peer required error")
	}

	m.inputs[focusPeer].SetValue("Alice")
	if msg := m.validateSubmit(); !strings.Contains(msg, "yourself") {
		t.Fatalf("expected self conversation error, got %q", msg)
	}

	m.inputs[focusPeer].SetValue("bob")
	m.inputs[focusPassword].SetValue("")
	if msg := m.validateSubmit(); msg == "" {
		t.Fatalf("expected password error")
	}

	m.inputs[focusServer].SetValue(" ")
	if msg := m.validateSubmit(); msg != "server url is required" {
		t.Fatalf("expected server error, got %q", msg)
	}
}

func TestLoginMoveFocusWraps(t *testing.T) {
	m := filledLogin(t)
	m.focusIdx = focusServer
	m.moveFocus(-1)
	if m.focusIdx != focusPeer {
		t.Fatalf("expected focus to wrap to peer, got %d", m.focusIdx)
	}
	m.moveFocus(1)
	if m.focusIdx != focusServer {
		t.Fatalf("expected focus 0, got %d", m.focusIdx)
	}
	if !m.inputs[focusServer].Focused() || m.inputs[focusPeer].Focused() {
		t.Fatal("expected only the server input to be focused")
	}
}

func TestLoginEnterSubmits(t *testing.T) {
	m := filledLogin(t)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !m.submitting || !m.loading {
		t.Fatal("expected submit on enter")
	}

	m.submitting = false
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.submitting {
		t.Fatal("enter while loading must not resubmit")
	}

	m, _ = m.Update(authErrorMsg{err: errors.New("server: unauthenticated")})
	if m.loading || m.errMsg != "server: unauthenticated" {
		t.Fatalf("unexpected state after error: loading=%v err=%q", m.loading, m.errMsg)
	}
}

func TestLoginRecentPicker(t *testing.T) {
	m := filledLogin(t)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if m.errMsg == "" || m.picking {
		t.Fatal("expected error without recent conversations")
	}

	m.recent = []recentChat{
		{Server: "http://one", User: "alice", Peer: "bob"},
		{Server: "http://two", User: "dave", Peer: "erin"},
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if !m.picking {
		t.Fatal("expected recent picker")
	}
	if view := m.View(); !strings.Contains(view, "dave -> erin @ http://two") {
		t.Fatalf("picker view missing entry:\n%s", view)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.picking {
		t.Fatal("expected picker closed")
	}
	if m.serverURL() != "http://two" || m.username() != "dave" || m.peer() != "erin" {
		t.Fatalf("picked entry not applied: %q %q %q", m.serverURL(), m.username(), m.peer())
	}
	if m.password() != "password" {
		t.Fatal("password must survive picking")
	}
}

func TestLoginRecentPickerForget(t *testing.T) {
	m := filledLogin(t)
	m.recent = []recentChat{{Server: "http://one"}}
	if err := saveRecent(m.recent); err != nil {
		t.Fatalf("saveRecent: %v", err)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if m.picking || len(m.recent) != 0 {
		t.Fatalf("expected recent list cleared, got %#v", m.recent)
	}
	if saved := loadRecent(); len(saved) != 0 {
		t.Fatalf("expected saved list removed, got %#v", saved)
	}
}

func TestLoginPrefillsFromRecent(t *testing.T) {
	setTestConfigDir(t)
	if err := saveRecent([]recentChat{{Server: "http://one", User: "alice", Peer: "bob"}}); err != nil {
		t.Fatalf("saveRecent: %v", err)
	}

	m := newLoginModel(options{})
	if m.serverURL() != "http://one" || m.username() != "alice" || m.peer() != "bob" {
		t.Fatalf("expected prefill, got %q %q %q", m.serverURL(), m.username(), m.peer())
	}
	if m.focusIdx != focusPassword {
		t.Fatalf("expected focus on password, got %d", m.focusIdx)
	}

	m = newLoginModel(options{server: "http://flag", peer: "carol"})
	if m.serverURL() != "http://flag" || m.username() != "" || m.peer() != "carol" {
		t.Fatalf("flags must win over recent: %q %q %q", m.serverURL(), m.username(), m.peer())
	}
}

func TestLoginView(t *testing.T) {
	m := filledLogin(t)
	m.errMsg = "boom"
	view := m.View()
	for _, want := range []string{"parley", "Chat with", "boom"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}
}
