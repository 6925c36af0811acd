package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID = uuid.UUID

// Conversation is the 1:1 relationship between two users.
// LastMessageID is a weak reference to the most recent message, LastMessageAt its
// server timestamp. UpdatedAt is the sort key of conversation lists.
type Conversation struct {
	ID            ConversationID
	Participants  Participants
	LastMessageID *uuid.UUID
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Supersedes reports whether a message created at `at` with id `id` is newer than the
// current last message pointer. Ties on the timestamp are broken by id, matching
// message ordering.
func (c Conversation) Supersedes(id uuid.UUID, at time.Time) bool {
	if c.LastMessageID == nil {
		return true
	}
	if at.Equal(c.LastMessageAt) {
		return id.String() > c.LastMessageID.String()
	}
	return at.After(c.LastMessageAt)
}

// ConversationSummary is the read model of the conversation list.
type ConversationSummary struct {
	ID           ConversationID `json:"id"`
	Participants []User         `json:"participants"`
	LastMessage  *MessageView   `json:"lastMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// ConversationUpdate is the payload of the new-conversation-update event.
type ConversationUpdate struct {
	ConversationID ConversationID `json:"conversationId"`
	LastMessage    MessageView    `json:"lastMessage"`
}
