package event

import "encoding/json"

// Frame types of the WebSocket relay protocol.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSubscribed  = "subscribed"
	FrameEvent       = "event"
	FrameError       = "error"
)

// Frame is one text message exchanged on the relay socket.
// Clients send subscribe and unsubscribe frames; the server answers with
// subscribed or error frames and pushes bus envelopes as event frames.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func EventFrame(e Envelope) Frame {
	return Frame{Type: FrameEvent, Channel: e.Channel, Event: e.Event, Payload: e.Payload}
}

// Envelope returns the bus envelope carried by an event frame.
func (f Frame) Envelope() Envelope {
	return Envelope{Channel: f.Channel, Event: f.Event, Payload: f.Payload}
}
