//go:generate go run go.uber.org/mock/mockgen -source=directory_service.go -destination=../mocks/mock_directory_service.go -package=mocks
package services

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/repositories"
	"log/slog"
)

type IDirectoryService interface {
	StartConversation(ctx context.Context, cmd domain.StartConversationCommand) (domain.ConversationSummary, error)
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
}

type DirectoryService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	users         repositories.IUserRepository
}

func NewDirectoryService(log *slog.Logger,
	conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository,
	users repositories.IUserRepository) *DirectoryService {
	return &DirectoryService{log: log, conversations: conversations, messages: messages, users: users}
}

// StartConversation finds or creates the conversation between the caller and the
// target user. Calling it again with the same pair, in either order, returns the
// same conversation.
func (s *DirectoryService) StartConversation(ctx context.Context, cmd domain.StartConversationCommand) (domain.ConversationSummary, error) {
	if err := validateCommand(cmd); err != nil {
		return domain.ConversationSummary{}, err
	}
	if cmd.CallerID == cmd.TargetID {
		return domain.ConversationSummary{}, errors.ErrSelfConversation
	}
	if _, err := s.users.GetUserByID(ctx, cmd.TargetID); err != nil {
		return domain.ConversationSummary{}, err
	}

	conversation, _, err := s.conversations.FindOrCreate(ctx, cmd.CallerID, cmd.TargetID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return s.summarize(ctx, newProfileCache(s.users, s.log), conversation)
}

// ListConversations returns the caller's conversations, most recently active first,
// each with its participants and last message.
func (s *DirectoryService) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles := newProfileCache(s.users, s.log)
	summaries := make([]domain.ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		summary, err := s.summarize(ctx, profiles, conversation)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *DirectoryService) summarize(ctx context.Context, profiles *profileCache, conversation domain.Conversation) (domain.ConversationSummary, error) {
	summary := domain.ConversationSummary{
		ID:        conversation.ID,
		CreatedAt: conversation.CreatedAt,
		UpdatedAt: conversation.UpdatedAt,
	}
	for _, userID := range conversation.Participants {
		profile, err := profiles.get(ctx, userID)
		if err != nil {
			return domain.ConversationSummary{}, err
		}
		summary.Participants = append(summary.Participants, profile)
	}
	if conversation.LastMessageID == nil {
		return summary, nil
	}

	// The last message pointer is a weak reference.
	message, err := s.messages.GetMessage(ctx, *conversation.LastMessageID)
	switch {
	case errors.Is(err, errors.ErrMessageNotFound):
		s.log.Warn("Dangling last message reference",
			"conversation_id", conversation.ID, "message_id", *conversation.LastMessageID)
		return summary, nil
	case err != nil:
		return domain.ConversationSummary{}, err
	}
	sender, err := profiles.get(ctx, message.SenderID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	view := domain.NewMessageView(message, sender)
	summary.LastMessage = &view
	return summary, nil
}

var _ IDirectoryService = (*DirectoryService)(nil)
