//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/moderation"
	"dm-lab/observability"
	"dm-lab/repositories"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// publishTimeout bounds each best effort publish once the message is stored.
const publishTimeout = 5 * time.Second

type IChatService interface {
	SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.MessageView, error)
	ListMessages(ctx context.Context, cmd domain.ListMessagesCommand) ([]domain.MessageView, error)
}

type ChatService struct {
	log              *slog.Logger
	messages         repositories.IMessageRepository
	conversations    repositories.IConversationRepository
	users            repositories.IUserRepository
	publisher        contract.Publisher
	moderator        *moderation.Moderator
	monitoring       *observability.Monitoring
	maxContentLength int
	clock            func() time.Time
}

// NewChatService wires the send and retrieval pipelines. moderator may be nil to
// store content as typed.
func NewChatService(
	log *slog.Logger,
	messages repositories.IMessageRepository,
	conversations repositories.IConversationRepository,
	users repositories.IUserRepository,
	publisher contract.Publisher,
	moderator *moderation.Moderator,
	monitoring *observability.Monitoring,
	maxContentLength int,
) *ChatService {
	return &ChatService{
		log:              log,
		messages:         messages,
		conversations:    conversations,
		users:            users,
		publisher:        publisher,
		moderator:        moderator,
		monitoring:       monitoring,
		maxContentLength: maxContentLength,
		clock:            func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage persists a message, moves the conversation's last message pointer
// and publishes the message to the conversation channel and a summary update to
// the recipient's channel. Publishing is best effort: once the message is stored
// the send succeeds even if the bus is down.
func (s *ChatService) SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.MessageView, error) {
	if err := validateCommand(cmd); err != nil {
		return domain.MessageView{}, err
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return domain.MessageView{}, errors.ErrEmptyContent
	}
	if s.maxContentLength > 0 && utf8.RuneCountInString(cmd.Content) > s.maxContentLength {
		return domain.MessageView{}, fmt.Errorf("%w: %d characters max", errors.ErrContentTooLong, s.maxContentLength)
	}

	conversation, err := s.participantConversation(ctx, cmd.ConversationID, cmd.SenderID)
	if err != nil {
		return domain.MessageView{}, err
	}

	content := cmd.Content
	if s.moderator != nil {
		verdict := s.moderator.Review(content)
		if verdict.Censored() {
			s.log.Info("Message censored",
				"conversation_id", conversation.ID,
				"sender_id", cmd.SenderID,
				"lang", verdict.Lang,
				"words", len(verdict.CensoredWords))
		}
		content = verdict.Content
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.MessageView{}, errors.Storage(err)
	}
	message := domain.Message{
		ID:             id,
		ConversationID: conversation.ID,
		SenderID:       cmd.SenderID,
		Content:        content,
		CreatedAt:      s.clock(),
		ReadBy:         []string{cmd.SenderID},
	}
	if err := s.messages.StoreMessage(ctx, message); err != nil {
		return domain.MessageView{}, err
	}
	// The message is committed: finish the pipeline even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.conversations.TouchLastMessage(ctx, conversation.ID, message.ID, message.CreatedAt); err != nil {
		return domain.MessageView{}, err
	}
	s.monitoring.IncrMessagesSent()

	sender, err := newProfileCache(s.users, s.log).get(ctx, cmd.SenderID)
	if err != nil {
		s.log.Warn("Sender profile unavailable", "sender_id", cmd.SenderID, "error", err)
		sender = domain.User{ID: cmd.SenderID}
	}
	message.ClientMsgID = cmd.ClientMsgID
	view := domain.NewMessageView(message, sender)

	s.publish(ctx, domain.ConversationChannel(conversation.ID), domain.EventNewMessage, view)
	if recipient, ok := conversation.Participants.Other(cmd.SenderID); ok {
		s.publish(ctx, domain.UserChannel(recipient), domain.EventConversationUpdate,
			domain.ConversationUpdate{ConversationID: conversation.ID, LastMessage: view})
	}
	return view, nil
}

// ListMessages returns the conversation history in ascending order and records
// the requester as a reader of every message sent by the other participant.
func (s *ChatService) ListMessages(ctx context.Context, cmd domain.ListMessagesCommand) ([]domain.MessageView, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	conversation, err := s.participantConversation(ctx, cmd.ConversationID, cmd.RequesterID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.ListAndMarkRead(ctx, conversation.ID, cmd.RequesterID)
	if err != nil {
		return nil, err
	}

	profiles := newProfileCache(s.users, s.log)
	views := make([]domain.MessageView, 0, len(messages))
	for _, message := range messages {
		sender, err := profiles.get(ctx, message.SenderID)
		if err != nil {
			return nil, err
		}
		views = append(views, domain.NewMessageView(message, sender))
	}
	return views, nil
}

func (s *ChatService) participantConversation(ctx context.Context, rawID, userID string) (domain.Conversation, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return domain.Conversation{}, errors.ErrInvalidConversationID
	}
	conversation, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conversation.Participants.Contains(userID) {
		return domain.Conversation{}, errors.ErrNotParticipant
	}
	return conversation, nil
}

func (s *ChatService) publish(ctx context.Context, channel, name string, payload any) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, channel, name, payload); err != nil {
		s.monitoring.IncrPublishFailures()
		s.log.Warn("Publish failed", "channel", channel, "event", name, "error", err)
	}
}

var _ IChatService = (*ChatService)(nil)
