package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parley-social/parley/internal/connection"
	"github.com/parley-social/parley/internal/user"
)

const createTimeout = 10 * time.Second

var errConflictPersisted = errors.New("conversation create conflicted twice")

type Authorizer interface {
	Authorize(ctx context.Context, a, b user.ID) error
}

type Store struct {
	repo   Repository
	authz  Authorizer
	flight singleflight.Group
	now    func() time.Time
}

func NewStore(repo Repository, authz Authorizer) *Store {
	return &Store{
		repo:  repo,
		authz: authz,
		now:   time.Now,
	}
}

// GetOrCreate returns the conversation between a and b, creating it on first
// contact. Callers in this process asking for the same pair share one
// lookup; across processes the unique name plus one retry keeps it to a
// single record.
func (s *Store) GetOrCreate(ctx context.Context, a, b user.User) (Conversation, error) {
	if s.repo == nil || s.authz == nil {
		return Conversation{}, errors.New("repository and authorizer are required")
	}
	if a.ID == "" || b.ID == "" || a.Username == "" || b.Username == "" {
		return Conversation{}, ErrInvalidInput
	}

	if err := s.authz.Authorize(ctx, a.ID, b.ID); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			return Conversation{}, ErrForbidden
		}
		return Conversation{}, fmt.Errorf("authorize pair: %w", err)
	}

	name := DeriveName(a.Username, b.Username)
	pair := orderedPair(a, b)
	v, err, _ := s.flight.Do(name, func() (any, error) {
		// The shared call must not die with whichever caller happened to lead.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()
		return s.findOrCreate(flightCtx, name, pair)
	})
	if err != nil {
		return Conversation{}, err
	}
	return v.(Conversation), nil
}

func (s *Store) findOrCreate(ctx context.Context, name string, pair [2]user.ID) (Conversation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		found, err := s.repo.FindByParticipants(ctx, pair[0], pair[1])
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Conversation{}, fmt.Errorf("find conversation: %w", err)
		}

		now := s.now().UTC()
		created := Conversation{
			Name:         name,
			Participants: pair,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err = s.repo.Create(ctx, created)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Conversation{}, fmt.Errorf("create conversation: %w", err)
		}
	}
	return Conversation{}, fmt.Errorf("create conversation %s: %w", name, errConflictPersisted)
}

func (s *Store) ListForUser(ctx context.Context, id user.ID) ([]Summary, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListForUser(ctx, id)
}

// orderedPair lists participants in username order, matching DeriveName.
func orderedPair(a, b user.User) [2]user.ID {
	if user.NormalizeUsername(b.Username) < user.NormalizeUsername(a.Username) {
		return [2]user.ID{b.ID, a.ID}
	}
	return [2]user.ID{a.ID, b.ID}
}
