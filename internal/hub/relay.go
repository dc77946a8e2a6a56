package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/parley-social/parley/internal/securelog"
)

// RedisRelay fans events out across server processes. Publish hands the
// event to Redis; Run receives every conversation channel on one
// subscription and replays each event into the local Registry, so all
// processes observe the order Redis assigned.
type RedisRelay struct {
	client    *redis.Client
	local     *Registry
	prefix    string
	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisRelay(client *redis.Client, local *Registry, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "parley"
	}
	return &RedisRelay{
		client: client,
		local:  local,
		prefix: prefix,
		ready:  make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, conversation string, e Event) error {
	data, err := encodeFrame(e)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(conversation), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ready is closed once the subscription is active.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run forwards relayed events to the local registry until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.channel("*"))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			conversation, ok := strings.CutPrefix(msg.Channel, r.channel(""))
			if !ok || conversation == "" {
				continue
			}
			e, err := decodeFrame([]byte(msg.Payload))
			if err != nil {
				securelog.Error("relay.decode", err)
				continue
			}
			_ = r.local.Publish(ctx, conversation, e)
		}
	}
}

func (r *RedisRelay) channel(conversation string) string {
	return r.prefix + ":conversation:" + conversation
}

var _ Broadcaster = (*RedisRelay)(nil)

const (
	frameJoin  = "join"
	frameChat  = "chat"
	frameError = "error"
)

type frame struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Media   string `json:"media,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Error   string `json:"error,omitempty"`
}

func encodeFrame(e Event) ([]byte, error) {
	var f frame
	switch ev := e.(type) {
	case JoinConfirmed:
		f = frame{Kind: frameJoin, Message: ev.Message}
	case ChatMessage:
		f = frame{Kind: frameChat, Text: ev.Text, Media: ev.Media, Sender: ev.Sender}
	case ErrorNotice:
		f = frame{Kind: frameError, Error: ev.Error}
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode relay frame: %w", err)
	}
	switch f.Kind {
	case frameJoin:
		return JoinConfirmed{Message: f.Message}, nil
	case frameChat:
		return ChatMessage{Text: f.Text, Media: f.Media, Sender: f.Sender}, nil
	case frameError:
		return ErrorNotice{Error: f.Error}, nil
	default:
		return nil, fmt.Errorf("unknown relay frame kind %q", f.Kind)
	}
}
