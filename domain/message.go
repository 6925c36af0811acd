// Package domain contains core concepts of the direct messaging system.
// This file defines Message records and their read-state rules.
// Messages are immutable except for the read set, which only grows.
package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Message represents one chat line as persisted by the server.
type Message struct {
	ID             uuid.UUID
	ConversationID ConversationID
	SenderID       string
	Content        string
	CreatedAt      time.Time
	ReadBy         []string
	// ClientMsgID correlates an optimistic client entry with this message.
	// It is echoed back but never stored.
	ClientMsgID string
}

// MarkReadBy adds userID to ReadBy. It returns false when nothing changed.
func (m *Message) MarkReadBy(userID string) bool {
	if userID == "" || slices.Contains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// Before orders messages by creation time, then id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID.String() < other.ID.String()
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// MessageView is the wire shape of a message: the record plus its sender's display
// fields. It is what the HTTP API returns and what new-message events carry.
type MessageView struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	Sender         User           `json:"sender"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"createdAt"`
	ReadBy         []string       `json:"readBy"`
	ClientMsgID    string         `json:"clientMsgId,omitempty"`
}

func NewMessageView(m Message, sender User) MessageView {
	if sender.ID == "" {
		sender.ID = m.SenderID
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         sender,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReadBy:         readBy,
		ClientMsgID:    m.ClientMsgID,
	}
}

// Message drops the display fields.
func (v MessageView) Message() Message {
	return Message{
		ID:             v.ID,
		ConversationID: v.ConversationID,
		SenderID:       v.Sender.ID,
		Content:        v.Content,
		CreatedAt:      v.CreatedAt,
		ReadBy:         v.ReadBy,
		ClientMsgID:    v.ClientMsgID,
	}
}
