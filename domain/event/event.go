// Package event defines the records travelling on the delivery bus.
// The JSON shape of Envelope is the compatibility surface between bus adapters,
// the WebSocket relay and clients.
package event

import (
	"dm-lab/domain"
	"encoding/json"
	"fmt"
)

// Envelope is one named event published on a channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(channel, name string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Envelope{Channel: channel, Event: name, Payload: raw}, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewMessage decodes the payload of a new-message event.
func (e Envelope) NewMessage() (domain.MessageView, error) {
	var view domain.MessageView
	if e.Event != domain.EventNewMessage {
		return view, fmt.Errorf("unexpected event %q", e.Event)
	}
	err := e.Decode(&view)
	return view, err
}

// ConversationUpdate decodes the payload of a new-conversation-update event.
func (e Envelope) ConversationUpdate() (domain.ConversationUpdate, error) {
	var update domain.ConversationUpdate
	if e.Event != domain.EventConversationUpdate {
		return update, fmt.Errorf("unexpected event %q", e.Event)
	}
	err := e.Decode(&update)
	return update, err
}
