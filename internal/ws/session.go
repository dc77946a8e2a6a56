package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/hub"
	"github.com/parley-social/parley/internal/user"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	// maxHeld bounds the live events parked while history replays.
	maxHeld = 1024
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Session is one client's stream in one conversation. It is the handle the
// registry fans events out to.
type Session struct {
	state atomic.Int32

	conn   *websocket.Conn
	user   user.User
	conv   conversation.Conversation
	ctx    context.Context
	cancel context.CancelFunc

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	status     websocket.StatusCode

	holdMu  sync.Mutex
	holding bool
	held    [][]byte
}

func newSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		status:     websocket.StatusNormalClosure,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// transition moves from one of the given states to next and reports whether
// it did. Closed and Rejected are terminal.
func (s *Session) transition(next State, from ...State) bool {
	for _, f := range from {
		if s.state.CompareAndSwap(int32(f), int32(next)) {
			return true
		}
	}
	return false
}

func (s *Session) reject() {
	s.transition(StateRejected, StateConnecting, StateAuthorizing)
	s.cancel()
}

// Deliver enqueues e for the writer without blocking. While history is
// replaying, e is parked instead and written once the replay ends.
func (s *Session) Deliver(e hub.Event) error {
	data, err := hub.Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	s.holdMu.Lock()
	if s.holding {
		defer s.holdMu.Unlock()
		if len(s.held) >= maxHeld {
			s.closeWith(websocket.StatusPolicyViolation)
			return errSendBufferFull
		}
		s.held = append(s.held, data)
		return nil
	}
	s.holdMu.Unlock()

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		s.closeWith(websocket.StatusPolicyViolation)
		return errSendBufferFull
	}
}

// hold parks group events until releaseHeld. It must be called before the
// session joins its group.
func (s *Session) hold() {
	s.holdMu.Lock()
	s.holding = true
	s.holdMu.Unlock()
}

// releaseHeld writes the parked events in arrival order, waiting for buffer
// space, and then returns Deliver to direct writes. Events that arrive while
// the backlog drains are parked behind it.
func (s *Session) releaseHeld(ctx context.Context) error {
	for {
		s.holdMu.Lock()
		batch := s.held
		s.held = nil
		if len(batch) == 0 {
			s.holding = false
			s.holdMu.Unlock()
			return nil
		}
		s.holdMu.Unlock()

		for _, data := range batch {
			if err := s.put(ctx, data); err != nil {
				return err
			}
		}
	}
}

// enqueue waits for buffer space. Only used for events addressed to this
// session alone.
func (s *Session) enqueue(ctx context.Context, e hub.Event) error {
	data, err := hub.Encode(e)
	if err != nil {
		return err
	}
	return s.put(ctx, data)
}

func (s *Session) put(ctx context.Context, data []byte) error {
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the session. The read loop observes the cancelled context and
// the handler's deferred release removes it from its group.
func (s *Session) Close() {
	s.closeWith(websocket.StatusGoingAway)
}

func (s *Session) closeWith(status websocket.StatusCode) {
	s.closeOnce.Do(func() {
		s.status = status
		s.transition(StateClosed, StateConnecting, StateAuthorizing, StateJoined)
		close(s.done)
		s.cancel()
	})
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	defer s.closeWith(websocket.StatusInternalError)
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

var _ hub.Subscriber = (*Session)(nil)
