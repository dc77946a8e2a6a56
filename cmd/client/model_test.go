package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestRootModelAuthSuccess(t *testing.T) {
	setTestConfigDir(t)
	api := &APIClient{serverURL: "http://server", httpClient: http.DefaultClient}
	m := newRootModel(api, options{server: "http://server", user: "alice", peer: "bob"})

	history := []HistoryMessage{{Sender: HistorySender{FirstName: "Bob"}, Text: strPtr("hi"), CreatedAt: "2026-01-01T10:00:00Z"}}
	updated, cmd := m.Update(authSuccessMsg{auth: newTestAuth(), peer: "bob", history: history})
	root := updated.(rootModel)
	if root.screen != screenChat {
		t.Fatalf("expected chat state")
	}
	if root.chat.auth == nil || root.chat.auth.Username != "alice" || root.chat.peer != "bob" {
		t.Fatalf("chat not initialised: %#v", root.chat.auth)
	}
	if len(root.chat.messages) != 1 || !root.chat.messages[0].isHistory {
		t.Fatalf("expected history to be loaded, got %#v", root.chat.messages)
	}
	if cmd == nil {
		t.Fatal("expected chat init command")
	}
	want := recentChat{Server: "http://server", User: "alice", Peer: "bob"}
	if saved := loadRecent(); len(saved) != 1 || saved[0] != want {
		t.Fatalf("expected conversation to be remembered, got %#v", saved)
	}
}

func newAuthServer(t *testing.T, historyStatus int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(AuthResponse{Token: "token", UserID: "user", Username: "alice"})
		case "/message/bob/":
			if historyStatus != http.StatusOK {
				w.WriteHeader(historyStatus)
				_ = json.NewEncoder(w).Encode(apiError{Error: "users are not connected"})
				return
			}
			_, _ = w.Write([]byte(`[]`))
		case "/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAuthenticateLoadsHistory(t *testing.T) {
	setTestConfigDir(t)
	server := newAuthServer(t, http.StatusOK)

	api := &APIClient{serverURL: server.URL, httpClient: server.Client()}
	msg := authenticate(api, " alice ", "password", " bob ")()
	success, ok := msg.(authSuccessMsg)
	if !ok {
		t.Fatalf("expected authSuccessMsg, got %T", msg)
	}
	if success.peer != "bob" || success.auth.Token != "token" || len(success.history) != 0 {
		t.Fatalf("unexpected success: %#v", success)
	}
}

func TestAuthenticateForbiddenPeer(t *testing.T) {
	setTestConfigDir(t)
	server := newAuthServer(t, http.StatusForbidden)

	api := &APIClient{serverURL: server.URL, httpClient: server.Client()}
	msg := authenticate(api, "alice", "password", "bob")()
	failure, ok := msg.(authErrorMsg)
	if !ok {
		t.Fatalf("expected authErrorMsg, got %T", msg)
	}
	if !strings.Contains(failure.err.Error(), "open conversation with bob") {
		t.Fatalf("unexpected error: %v", failure.err)
	}
}

func TestAuthenticateError(t *testing.T) {
	setTestConfigDir(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(apiError{Error: "unauthenticated"})
	}))
	defer server.Close()

	api := &APIClient{serverURL: server.URL, httpClient: server.Client()}
	if _, ok := authenticate(api, "alice", "bad", "bob")().(authErrorMsg); !ok {
		t.Fatal("expected authErrorMsg")
	}
}

func TestRootModelSubmitTriggersAuth(t *testing.T) {
	setTestConfigDir(t)
	api := &APIClient{serverURL: "", httpClient: http.DefaultClient}
	m := newRootModel(api, options{server: "http://server/", user: "alice", peer: "bob"})
	m.login.inputs[focusPassword].SetValue("password")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	root := updated.(rootModel)
	if cmd == nil {
		t.Fatal("expected auth command")
	}
	if root.api.serverURL != "http://server" {
		t.Fatalf("serverURL = %q", root.api.serverURL)
	}
	if root.login.submitting {
		t.Fatal("submitting flag should be consumed")
	}
}

func TestRootModelQuit(t *testing.T) {
	setTestConfigDir(t)
	m := newRootModel(NewAPIClient("http://server"), options{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlQ})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}
