package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/user"
)

var (
	alice = user.User{ID: "id-alice", Username: "alice", FirstName: "Alice", LastName: "Liddell"}
	bob   = user.User{ID: "id-bob", Username: "bob", FirstName: "Bob"}
	carol = user.User{ID: "id-carol", Username: "carol", FirstName: "Carol"}
)

type fakeAuth struct {
	tokens    map[string]user.User
	passwords map[string]string
	loggedOut []string
	loginErr  error
}

func (a *fakeAuth) Login(_ context.Context, username, password string) (auth.Session, error) {
	if a.loginErr != nil {
		return auth.Session{}, a.loginErr
	}
	if a.passwords[username] != password {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	for tok, u := range a.tokens {
		if u.Username == username {
			return auth.Session{Token: tok, User: u, ExpiresAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}, nil
		}
	}
	return auth.Session{}, auth.ErrUnauthenticated
}

func (a *fakeAuth) Logout(_ context.Context, credential string) error {
	a.loggedOut = append(a.loggedOut, credential)
	return nil
}

func (a *fakeAuth) ResolveIdentity(_ context.Context, credential string) (user.User, error) {
	u, ok := a.tokens[credential]
	if !ok {
		return user.User{}, auth.ErrUnauthenticated
	}
	return u, nil
}

type fakeUsers struct{}

func (fakeUsers) GetByUsername(_ context.Context, username string) (user.User, error) {
	for _, u := range []user.User{alice, bob, carol} {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

type fakeConversations struct {
	summaries []conversation.Summary
}

func (f *fakeConversations) GetOrCreate(_ context.Context, a, b user.User) (conversation.Conversation, error) {
	if (a.ID == alice.ID && b.ID == bob.ID) || (a.ID == bob.ID && b.ID == alice.ID) {
		return conversation.Conversation{Name: "alice-bob", Participants: [2]user.ID{alice.ID, bob.ID}}, nil
	}
	return conversation.Conversation{}, conversation.ErrForbidden
}

func (f *fakeConversations) ListForUser(_ context.Context, id user.ID) ([]conversation.Summary, error) {
	return f.summaries, nil
}

type fakeMessages struct {
	msgs     []message.Message
	markedBy []user.ID
	err      error
}

func (f *fakeMessages) Collect(context.Context, conversation.Conversation) ([]message.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, _ conversation.Conversation, reader user.ID) (int64, error) {
	f.markedBy = append(f.markedBy, reader)
	return 1, nil
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

type testDeps struct {
	auth  *fakeAuth
	convs *fakeConversations
	msgs  *fakeMessages
}

func newTestRouter(t *testing.T, pinger Pinger, ws http.Handler) (http.Handler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		auth: &fakeAuth{
			tokens:    map[string]user.User{"tok-alice": alice, "tok-bob": bob, "tok-carol": carol},
			passwords: map[string]string{"alice": "wonderland"},
		},
		convs: &fakeConversations{},
		msgs:  &fakeMessages{},
	}
	api := NewHandler(deps.auth, fakeUsers{}, deps.convs, deps.msgs, pinger)
	return NewRouter(api, ws), deps
}

func do(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, fakePinger{}, nil)
	rec := do(t, h, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}

	h, _ = newTestRouter(t, fakePinger{err: errors.New("db down")}, nil)
	rec = do(t, h, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d, want 503", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	h, _ := newTestRouter(t, nil, nil)

	rec := do(t, h, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"wonderland"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token != "tok-alice" || resp.UserID != alice.ID || resp.Username != "alice" || resp.ExpiresAt == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestLoginRejections(t *testing.T) {
	h, deps := newTestRouter(t, nil, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest},
		{"unknown field", `{"username":"alice","password":"x","admin":true}`, http.StatusBadRequest},
		{"not json", `username=alice`, http.StatusBadRequest},
		{"too long", `{"username":"` + strings.Repeat("a", 65) + `","password":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/auth/login", "", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	deps.auth.loginErr = errors.New("db down")
	rec := do(t, h, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"wonderland"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestLogout(t *testing.T) {
	h, deps := newTestRouter(t, nil, nil)

	if rec := do(t, h, http.MethodPost, "/auth/logout", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous logout = %d, want 401", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/auth/logout", "tok-alice", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d, want 204", rec.Code)
	}
	if len(deps.auth.loggedOut) != 1 || deps.auth.loggedOut[0] != "tok-alice" {
		t.Fatalf("loggedOut = %v", deps.auth.loggedOut)
	}
}

func TestHistory(t *testing.T) {
	h, deps := newTestRouter(t, nil, nil)
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	deps.msgs.msgs = []message.Message{
		{ID: "m1", SenderID: alice.ID, Sender: message.Sender{Username: "alice", FirstName: "Alice", LastName: "Liddell"}, Text: "hi", Read: true, CreatedAt: created},
		{ID: "m2", SenderID: bob.ID, Sender: message.Sender{Username: "bob", FirstName: "Bob"}, Media: "cat.png", CreatedAt: created.Add(time.Minute)},
	}

	rec := do(t, h, http.MethodGet, "/message/bob/", "tok-alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d body=%s", rec.Code, rec.Body.String())
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(got))
	}
	sender := got[0]["sender"].(map[string]any)
	if sender["first_name"] != "Alice" || sender["last_name"] != "Liddell" {
		t.Fatalf("sender = %v", sender)
	}
	if got[0]["text"] != "hi" || got[0]["media"] != nil || got[0]["read"] != true {
		t.Fatalf("history[0] = %v", got[0])
	}
	if got[1]["text"] != nil || got[1]["media"] != "cat.png" || got[1]["read"] != false {
		t.Fatalf("history[1] = %v", got[1])
	}
	if len(deps.msgs.markedBy) != 1 || deps.msgs.markedBy[0] != alice.ID {
		t.Fatalf("markedBy = %v", deps.msgs.markedBy)
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	h, _ := newTestRouter(t, nil, nil)
	rec := do(t, h, http.MethodGet, "/message/alice/", "tok-bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rec.Body.String())
	}
}

func TestHistoryRejections(t *testing.T) {
	h, deps := newTestRouter(t, nil, nil)

	cases := []struct {
		name   string
		target string
		token  string
		want   int
	}{
		{"anonymous", "/message/bob/", "", http.StatusUnauthorized},
		{"bad token", "/message/bob/", "nope", http.StatusUnauthorized},
		{"unknown peer", "/message/zed/", "tok-alice", http.StatusNotFound},
		{"not connected", "/message/bob/", "tok-carol", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodGet, tc.target, tc.token, ""); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if len(deps.msgs.markedBy) != 0 {
		t.Fatalf("rejected requests must not mark messages read, got %v", deps.msgs.markedBy)
	}

	deps.msgs.err = errors.New("boom")
	if rec := do(t, h, http.MethodGet, "/message/bob/", "tok-alice", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestConversations(t *testing.T) {
	h, deps := newTestRouter(t, nil, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps.convs.summaries = []conversation.Summary{{
		Conversation: conversation.Conversation{Name: "alice-bob", Participants: [2]user.ID{alice.ID, bob.ID}, CreatedAt: now, UpdatedAt: now.Add(time.Hour)},
		PeerID:       bob.ID,
		PeerUsername: "bob",
	}}

	if rec := do(t, h, http.MethodGet, "/conversations/", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d, want 401", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/conversations/", "tok-alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("conversations = %d", rec.Code)
	}
	var got []conversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Peer != "bob" || got[0].Name != "alice-bob" {
		t.Fatalf("unexpected conversations: %+v", got)
	}
}

func TestRouterMountsConversationEndpoint(t *testing.T) {
	var peer string
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer = chi.URLParam(r, "username")
		w.WriteHeader(http.StatusTeapot)
	})
	h, _ := newTestRouter(t, nil, ws)

	rec := do(t, h, http.MethodGet, "/conversation/bob/", "", "")
	if rec.Code != http.StatusTeapot || peer != "bob" {
		t.Fatalf("conversation endpoint = %d peer=%q", rec.Code, peer)
	}
}
