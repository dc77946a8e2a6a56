package hub

import (
	"encoding/json"
	"fmt"
)

// Event is a server-to-client event. The set of implementations is closed:
// JoinConfirmed, ChatMessage and ErrorNotice.
type Event interface {
	isEvent()
}

// JoinConfirmed acknowledges a join to the joining session only.
type JoinConfirmed struct {
	Message string
}

// ChatMessage is a persisted message fanned out to the whole group.
type ChatMessage struct {
	Text   string
	Media  string
	Sender string
}

// ErrorNotice reports a rejected inbound event to its sender only.
type ErrorNotice struct {
	Error string
}

func (JoinConfirmed) isEvent() {}
func (ChatMessage) isEvent()   {}
func (ErrorNotice) isEvent()   {}

const ConnectionEstablished = "connection established"

type joinPayload struct {
	Message string `json:"message"`
}

type chatPayload struct {
	Text   *string `json:"text"`
	Media  *string `json:"media"`
	Sender string  `json:"sender"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Encode renders e as the JSON object sent in one websocket frame.
func Encode(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case JoinConfirmed:
		return json.Marshal(joinPayload{Message: ev.Message})
	case ChatMessage:
		return json.Marshal(chatPayload{Text: nullable(ev.Text), Media: nullable(ev.Media), Sender: ev.Sender})
	case ErrorNotice:
		return json.Marshal(errorPayload{Error: ev.Error})
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
