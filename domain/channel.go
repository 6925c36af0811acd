package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Event names carried on the delivery bus. They are part of the wire contract.
const (
	EventNewMessage         = "new-message"
	EventConversationUpdate = "new-conversation-update"
)

const (
	conversationChannelPrefix = "conversation-"
	userChannelPrefix         = "user-"
)

// ConversationChannel is the channel carrying new-message events of a conversation.
func ConversationChannel(id ConversationID) string {
	return conversationChannelPrefix + id.String()
}

// UserChannel is the personal channel carrying inbox updates of a user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

type ChannelKind int

const (
	UnknownChannel ChannelKind = iota
	ConversationChannelKind
	UserChannelKind
)

// ParseChannel is the inverse of ConversationChannel and UserChannel.
func ParseChannel(channel string) (ChannelKind, string) {
	switch {
	case strings.HasPrefix(channel, conversationChannelPrefix):
		id := strings.TrimPrefix(channel, conversationChannelPrefix)
		if _, err := uuid.Parse(id); err != nil {
			return UnknownChannel, ""
		}
		return ConversationChannelKind, id
	case strings.HasPrefix(channel, userChannelPrefix):
		id := strings.TrimPrefix(channel, userChannelPrefix)
		if id == "" {
			return UnknownChannel, ""
		}
		return UserChannelKind, id
	default:
		return UnknownChannel, ""
	}
}
