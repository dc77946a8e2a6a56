package ws

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/hub"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/securelog"
	"github.com/parley-social/parley/internal/user"
)

const readLimit = 64 << 10

type Authenticator interface {
	ResolveIdentity(ctx context.Context, credential string) (user.User, error)
}

type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (user.User, error)
}

type Conversations interface {
	GetOrCreate(ctx context.Context, a, b user.User) (conversation.Conversation, error)
}

type Messages interface {
	Append(ctx context.Context, conv conversation.Conversation, sender user.User, text, media string) (message.Message, error)
	History(ctx context.Context, conv conversation.Conversation) iter.Seq2[message.Message, error]
}

type Groups interface {
	Join(conversation string, s hub.Subscriber) error
	Leave(conversation string, s hub.Subscriber) bool
}

type Options struct {
	// ReplayHistory sends the stored history to a session right after its
	// join confirmation.
	ReplayHistory bool
	// OriginPatterns are passed to websocket.AcceptOptions.
	OriginPatterns []string
}

// Handler serves GET /conversation/{username}/.
type Handler struct {
	auth          Authenticator
	users         UserLookup
	conversations Conversations
	messages      Messages
	groups        Groups
	broadcaster   hub.Broadcaster
	opts          Options
	now           func() time.Time
}

func NewHandler(authn Authenticator, users UserLookup, conversations Conversations, messages Messages, groups Groups, broadcaster hub.Broadcaster, opts Options) *Handler {
	return &Handler{
		auth:          authn,
		users:         users,
		conversations: conversations,
		messages:      messages,
		groups:        groups,
		broadcaster:   broadcaster,
		opts:          opts,
		now:           time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil || h.users == nil || h.conversations == nil || h.messages == nil || h.groups == nil || h.broadcaster == nil {
		http.Error(w, "conversation service not configured", http.StatusInternalServerError)
		return
	}

	s := newSession(context.WithoutCancel(r.Context()))
	defer s.cancel()

	status, err := h.authorize(r, s)
	if err != nil {
		s.reject()
		if status == http.StatusInternalServerError {
			securelog.Error("ws.connect", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		s.reject()
		return
	}
	conn.SetReadLimit(readLimit)
	s.conn = conn
	go s.writeLoop()
	defer h.release(s)

	// Queued ahead of the join so it precedes any group event.
	if err := s.Deliver(hub.JoinConfirmed{Message: hub.ConnectionEstablished}); err != nil {
		return
	}
	// Group events wait behind the replayed history.
	if h.opts.ReplayHistory {
		s.hold()
	}
	joinedAt := h.now()
	if err := h.groups.Join(s.conv.Name, s); err != nil {
		if !errors.Is(err, hub.ErrClosed) {
			securelog.Error("ws.join", err)
		}
		s.closeWith(websocket.StatusTryAgainLater)
		return
	}
	if !s.transition(StateJoined, StateAuthorizing) {
		return
	}

	if h.opts.ReplayHistory {
		h.replay(s, joinedAt)
		if err := s.releaseHeld(s.ctx); err != nil {
			return
		}
	}
	h.readLoop(s)
}

// authorize resolves the caller, the peer and the conversation before any
// upgrade happens. The returned status is meaningful only with an error.
func (h *Handler) authorize(r *http.Request, s *Session) (int, error) {
	ctx := r.Context()

	me, err := h.auth.ResolveIdentity(ctx, auth.CredentialFromRequest(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return http.StatusUnauthorized, err
		}
		return http.StatusInternalServerError, err
	}
	if !s.transition(StateAuthorizing, StateConnecting) {
		return http.StatusInternalServerError, errSessionClosed
	}

	peer, err := h.users.GetByUsername(ctx, chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	conv, err := h.conversations.GetOrCreate(ctx, me, peer)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrForbidden), errors.Is(err, conversation.ErrInvalidInput):
			return http.StatusForbidden, err
		default:
			return http.StatusInternalServerError, err
		}
	}

	s.user = me
	s.conv = conv
	return http.StatusOK, nil
}

// release runs once per accepted connection, on every exit path.
func (h *Handler) release(s *Session) {
	h.groups.Leave(s.conv.Name, s)
	s.closeWith(websocket.StatusNormalClosure)
	<-s.writerDone
	_ = s.conn.Close(s.status, "")
}

type inbound struct {
	Text   *string `json:"text"`
	Media  *string `json:"media"`
	Sender string  `json:"sender"`
}

func (in inbound) parts() (string, string) {
	var text, media string
	if in.Text != nil {
		text = *in.Text
	}
	if in.Media != nil {
		media = *in.Media
	}
	return text, media
}

func (h *Handler) readLoop(s *Session) {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			_ = s.Deliver(hub.ErrorNotice{Error: "expected a text frame"})
			continue
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = s.Deliver(hub.ErrorNotice{Error: "invalid message payload"})
			continue
		}
		text, media := in.parts()

		// Persist before publishing; a session's messages are handled in
		// arrival order.
		msg, err := h.messages.Append(s.ctx, s.conv, s.user, text, media)
		if err != nil {
			switch {
			case errors.Is(err, message.ErrInvalidArgument), errors.Is(err, message.ErrForbidden):
				_ = s.Deliver(hub.ErrorNotice{Error: err.Error()})
			default:
				securelog.Error("ws.append", err)
				_ = s.Deliver(hub.ErrorNotice{Error: "message could not be saved"})
			}
			continue
		}

		event := hub.ChatMessage{Text: msg.Text, Media: msg.Media, Sender: s.user.Username}
		if err := h.broadcaster.Publish(s.ctx, s.conv.Name, event); err != nil {
			securelog.Error("ws.publish", err)
			_ = s.Deliver(hub.ErrorNotice{Error: "message saved but not delivered"})
		}
	}
}

// replay sends messages stored before the session joined. Later ones arrive
// through the group.
func (h *Handler) replay(s *Session, joinedAt time.Time) {
	for msg, err := range h.messages.History(s.ctx, s.conv) {
		if err != nil {
			securelog.Error("ws.replay", err)
			_ = s.enqueue(s.ctx, hub.ErrorNotice{Error: "history unavailable"})
			return
		}
		if !msg.CreatedAt.Before(joinedAt) {
			return
		}
		event := hub.ChatMessage{Text: msg.Text, Media: msg.Media, Sender: msg.Sender.Username}
		if err := s.enqueue(s.ctx, event); err != nil {
			return
		}
	}
}
