package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrAlreadyJoined = errors.New("subscriber already joined a conversation")
	ErrClosed        = errors.New("registry closed")
)

// Subscriber is one live session as seen by the registry.
type Subscriber interface {
	// Deliver enqueues e without blocking. An error means the subscriber can
	// no longer receive events.
	Deliver(e Event) error
	// Close tears the subscriber down. The owning session is responsible for
	// calling Leave afterwards.
	Close()
}

// Broadcaster fans an event out to a conversation's group.
type Broadcaster interface {
	Publish(ctx context.Context, conversation string, e Event) error
}

type group struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// Registry maps conversation names to the subscribers currently joined to
// them. Lock order is Registry.mu then group.mu. Nothing in here blocks on
// I/O.
type Registry struct {
	mu      sync.RWMutex
	groups  map[string]*group
	members map[Subscriber]string
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{
		groups:  make(map[string]*group),
		members: make(map[Subscriber]string),
	}
}

func (r *Registry) Join(conversation string, s Subscriber) error {
	if conversation == "" || s == nil {
		return errors.New("conversation and subscriber are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.members[s]; ok {
		return ErrAlreadyJoined
	}

	g := r.groups[conversation]
	if g == nil {
		g = &group{subs: make(map[Subscriber]struct{})}
		r.groups[conversation] = g
	}
	g.mu.Lock()
	g.subs[s] = struct{}{}
	g.mu.Unlock()
	r.members[s] = conversation
	return nil
}

// Leave removes s from the conversation's group and reports whether it was
// there. Empty groups are dropped.
func (r *Registry) Leave(conversation string, s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if joined, ok := r.members[s]; !ok || joined != conversation {
		return false
	}
	delete(r.members, s)

	g := r.groups[conversation]
	if g == nil {
		return true
	}
	g.mu.Lock()
	delete(g.subs, s)
	empty := len(g.subs) == 0
	g.mu.Unlock()
	if empty {
		delete(r.groups, conversation)
	}
	return true
}

// Publish delivers e to every subscriber in the group, the publisher
// included. Publishes to one group are serialized so every member sees the
// same order. Subscribers that fail delivery are closed once the locks are
// released; the rest still receive e.
func (r *Registry) Publish(_ context.Context, conversation string, e Event) error {
	r.deliver(conversation, e)
	return nil
}

func (r *Registry) deliver(conversation string, e Event) int {
	var failed []Subscriber
	delivered := 0

	r.mu.RLock()
	g := r.groups[conversation]
	if g != nil {
		g.mu.Lock()
		for s := range g.subs {
			if err := s.Deliver(e); err != nil {
				failed = append(failed, s)
				continue
			}
			delivered++
		}
		g.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, s := range failed {
		s.Close()
	}
	return delivered
}

func (r *Registry) Members(conversation string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.groups[conversation]
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func (r *Registry) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Close refuses further joins and closes every joined subscriber.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	subs := lo.Keys(r.members)
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

var _ Broadcaster = (*Registry)(nil)
