package message

import (
	"context"
	"errors"
	"time"

	"github.com/parley-social/parley/internal/user"
)

type ID string

type Message struct {
	ID           ID
	Conversation string
	SenderID     user.ID
	Sender       Sender
	Text         string
	Media        string
	Read         bool
	CreatedAt    time.Time
}

// Sender carries the display fields of the author, filled on read.
type Sender struct {
	Username  string
	FirstName string
	LastName  string
}

// Cursor marks a position in a conversation's history.
type Cursor struct {
	CreatedAt time.Time
	ID        ID
}

var (
	ErrInvalidArgument = errors.New("message needs text or media")
	ErrForbidden       = errors.New("sender is not a participant")
)

type Repository interface {
	// Append stores msg and bumps the conversation's last activity in one
	// transaction.
	Append(ctx context.Context, msg Message) error
	// ListAfter returns up to limit messages strictly after cursor (from the
	// start when cursor is nil), oldest first.
	ListAfter(ctx context.Context, conversation string, cursor *Cursor, limit int) ([]Message, error)
	// MarkRead flags every unread message in the conversation not sent by
	// reader as read and returns how many changed.
	MarkRead(ctx context.Context, conversation string, reader user.ID) (int64, error)
}
