package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// WSClient is one open conversation socket. Send is safe for concurrent use.
type WSClient struct {
	conn *websocket.Conn
	ctx  context.Context
	stop context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// ServerEvent is any frame the conversation endpoint sends. Exactly one of
// Message (join confirmation), Error, or the chat fields is meaningful.
type ServerEvent struct {
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Text    *string `json:"text,omitempty"`
	Media   *string `json:"media,omitempty"`
	Sender  string  `json:"sender,omitempty"`
}

func (e ServerEvent) isChat() bool {
	return e.Sender != "" || e.Text != nil || e.Media != nil
}

// OutgoingMessage always carries both keys; an absent part is null.
type OutgoingMessage struct {
	Text   *string `json:"text"`
	Media  *string `json:"media"`
	Sender string  `json:"sender"`
}

// conversationURL maps an http(s) base URL, path prefix included, to the
// ws(s) endpoint for peer.
func conversationURL(serverURL, peer string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/conversation/" + peer + "/"
	u.RawPath = ""
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

func ConnectWS(serverURL, token, peer string) (*WSClient, error) {
	target, err := conversationURL(serverURL, peer)
	if err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + token}},
	})
	if err != nil {
		stop()
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("websocket dial: %w", &StatusError{Status: resp.StatusCode})
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &WSClient{conn: conn, ctx: ctx, stop: stop}, nil
}

func (c *WSClient) Send(msg OutgoingMessage) error {
	if c.ctx.Err() != nil {
		return errConnectionClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if errors.Is(err, context.Canceled) {
			return errConnectionClosed
		}
		return err
	}
	return nil
}

// ReadLoop decodes frames into events until the socket closes, then closes
// events. Frames that are not JSON objects are skipped.
func (c *WSClient) ReadLoop(events chan<- ServerEvent) {
	defer close(events)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		var ev ServerEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		select {
		case events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
}
