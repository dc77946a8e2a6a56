package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/parley-social/parley/internal/user"
)

// nameSeparator never appears in a valid username, so derived names are
// unambiguous.
const nameSeparator = "-"

type Conversation struct {
	Name         string
	Participants [2]user.ID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c Conversation) HasParticipant(id user.ID) bool {
	return id != "" && lo.Contains(c.Participants[:], id)
}

// Peer returns the participant that is not id.
func (c Conversation) Peer(id user.ID) (user.ID, bool) {
	if !c.HasParticipant(id) {
		return "", false
	}
	if c.Participants[0] == id {
		return c.Participants[1], true
	}
	return c.Participants[0], true
}

// Summary is a conversation as seen from one participant.
type Summary struct {
	Conversation
	PeerID       user.ID
	PeerUsername string
}

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("conversation not found")
	ErrForbidden    = errors.New("users are not connected")
	ErrConflict     = errors.New("conversation already exists")
)

type Repository interface {
	// FindByParticipants returns the conversation whose participant set is
	// exactly {a, b}, or ErrNotFound.
	FindByParticipants(ctx context.Context, a, b user.ID) (Conversation, error)
	// Create stores c and both participants atomically. A duplicate name
	// yields ErrConflict.
	Create(ctx context.Context, c Conversation) error
	ListForUser(ctx context.Context, id user.ID) ([]Summary, error)
}

// DeriveName returns the conversation name for a pair of usernames. The
// result does not depend on argument order.
func DeriveName(a, b string) string {
	names := []string{user.NormalizeUsername(a), user.NormalizeUsername(b)}
	sort.Strings(names)
	return strings.Join(names, nameSeparator)
}
