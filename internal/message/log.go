package message

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/user"
)

const defaultPageSize = 100

type Log struct {
	repo     Repository
	idGen    func() ID
	now      func() time.Time
	pageSize int
}

func NewLog(repo Repository) *Log {
	return &Log{
		repo:     repo,
		// Version 7 ids sort by creation time, which breaks created_at ties
		// in history order.
		idGen:    func() ID { return ID(uuid.Must(uuid.NewV7()).String()) },
		now:      time.Now,
		pageSize: defaultPageSize,
	}
}

func (l *Log) Append(ctx context.Context, conv conversation.Conversation, sender user.User, text, media string) (Message, error) {
	if l.repo == nil {
		return Message{}, errors.New("repository is required")
	}
	if !conv.HasParticipant(sender.ID) {
		return Message{}, ErrForbidden
	}
	if text == "" && media == "" {
		return Message{}, ErrInvalidArgument
	}

	msg := Message{
		ID:           l.idGen(),
		Conversation: conv.Name,
		SenderID:     sender.ID,
		Sender: Sender{
			Username:  sender.Username,
			FirstName: sender.FirstName,
			LastName:  sender.LastName,
		},
		Text:      text,
		Media:     media,
		Read:      false,
		CreatedAt: l.now().UTC().Truncate(time.Microsecond),
	}
	if err := l.repo.Append(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// History yields the conversation's messages oldest first, fetching one page
// at a time. Iteration stops after the first error.
func (l *Log) History(ctx context.Context, conv conversation.Conversation) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		if l.repo == nil {
			yield(Message{}, errors.New("repository is required"))
			return
		}
		var cursor *Cursor
		for {
			page, err := l.repo.ListAfter(ctx, conv.Name, cursor, l.pageSize)
			if err != nil {
				yield(Message{}, fmt.Errorf("list messages: %w", err))
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Collect drains History into a slice.
func (l *Log) Collect(ctx context.Context, conv conversation.Conversation) ([]Message, error) {
	var msgs []Message
	for msg, err := range l.History(ctx, conv) {
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (l *Log) MarkRead(ctx context.Context, conv conversation.Conversation, reader user.ID) (int64, error) {
	if l.repo == nil {
		return 0, errors.New("repository is required")
	}
	if !conv.HasParticipant(reader) {
		return 0, ErrForbidden
	}
	n, err := l.repo.MarkRead(ctx, conv.Name, reader)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}
