package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/securelog"
	"github.com/parley-social/parley/internal/user"
)

const (
	maxBodyBytes  = 1 << 20
	timeLayout    = time.RFC3339Nano
	healthTimeout = 2 * time.Second
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Logout(ctx context.Context, credential string) error
	ResolveIdentity(ctx context.Context, credential string) (user.User, error)
}

type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (user.User, error)
}

type Conversations interface {
	GetOrCreate(ctx context.Context, a, b user.User) (conversation.Conversation, error)
	ListForUser(ctx context.Context, id user.ID) ([]conversation.Summary, error)
}

type Messages interface {
	Collect(ctx context.Context, conv conversation.Conversation) ([]message.Message, error)
	MarkRead(ctx context.Context, conv conversation.Conversation, reader user.ID) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	auth          Authenticator
	users         UserLookup
	conversations Conversations
	messages      Messages
	health        Pinger
	validate      *validator.Validate
}

func NewHandler(authn Authenticator, users UserLookup, conversations Conversations, messages Messages, health Pinger) *Handler {
	return &Handler{
		auth:          authn,
		users:         users,
		conversations: conversations,
		messages:      messages,
		health:        health,
		validate:      validator.New(),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/message/{username}/", h.handleHistory)
	r.Get("/conversations/", h.handleConversations)
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginResponse struct {
	Token     string  `json:"token"`
	UserID    user.ID `json:"user_id"`
	Username  string  `json:"username"`
	ExpiresAt string  `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		UserID:    session.User.ID,
		Username:  session.User.Username,
		ExpiresAt: session.ExpiresAt.UTC().Format(timeLayout),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), auth.CredentialFromRequest(r)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type senderResponse struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type messageResponse struct {
	Sender    senderResponse `json:"sender"`
	Text      *string        `json:"text"`
	Media     *string        `json:"media"`
	CreatedAt string         `json:"created_at"`
	Read      bool           `json:"read"`
}

// handleHistory returns the conversation with the named user, creating it on
// first contact, and marks the peer's messages read. The response shows read
// flags as they were before this call.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	me, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.users == nil || h.conversations == nil || h.messages == nil {
		writeError(w, http.StatusInternalServerError, errors.New("conversation services not configured"))
		return
	}

	peer, err := h.users.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	conv, err := h.conversations.GetOrCreate(r.Context(), me, peer)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrForbidden), errors.Is(err, conversation.ErrInvalidInput):
			writeError(w, http.StatusForbidden, conversation.ErrForbidden)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	msgs, err := h.messages.Collect(r.Context(), conv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := h.messages.MarkRead(r.Context(), conv, me.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := lo.Map(msgs, func(m message.Message, _ int) messageResponse {
		return messageResponse{
			Sender:    senderResponse{FirstName: m.Sender.FirstName, LastName: m.Sender.LastName},
			Text:      nullable(m.Text),
			Media:     nullable(m.Media),
			CreatedAt: m.CreatedAt.UTC().Format(timeLayout),
			Read:      m.Read,
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type conversationResponse struct {
	Name      string  `json:"name"`
	PeerID    user.ID `json:"peer_id"`
	Peer      string  `json:"peer"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	me, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.conversations == nil {
		writeError(w, http.StatusInternalServerError, errors.New("conversation service not configured"))
		return
	}

	summaries, err := h.conversations.ListForUser(r.Context(), me.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := lo.Map(summaries, func(s conversation.Summary, _ int) conversationResponse {
		return conversationResponse{
			Name:      s.Name,
			PeerID:    s.PeerID,
			Peer:      s.PeerUsername,
			CreatedAt: s.CreatedAt.UTC().Format(timeLayout),
			UpdatedAt: s.UpdatedAt.UTC().Format(timeLayout),
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			securelog.Error("httpapi.health", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authenticate resolves the caller or writes the error response itself.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (user.User, bool) {
	if h.auth == nil {
		writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return user.User{}, false
	}
	me, err := h.auth.ResolveIdentity(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, err)
			return user.User{}, false
		}
		writeError(w, http.StatusInternalServerError, err)
		return user.User{}, false
	}
	return me, true
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError never echoes internal error text to the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		securelog.Error("httpapi", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
