package services

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/mocks"
	"dm-lab/repositories"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newDirectory(t *testing.T) (*DirectoryService, *mocks.MockIConversationRepository, *mocks.MockIMessageRepository, *mocks.MockIUserRepository) {
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockIConversationRepository(ctrl)
	messages := mocks.NewMockIMessageRepository(ctrl)
	users := mocks.NewMockIUserRepository(ctrl)
	users.EXPECT().GetUserByID(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string) (repositories.User, error) {
			if id == "ghost" {
				return repositories.User{}, errors.ErrUserNotFound
			}
			return repositories.User{ID: id, Name: "name-" + id}, nil
		}).AnyTimes()
	service := NewDirectoryService(logs.GetLoggerFromLevel(slog.LevelDebug), conversations, messages, users)
	return service, conversations, messages, users
}

func TestDirectoryService_StartConversation(t *testing.T) {
	req := require.New(t)
	service, conversations, _, _ := newDirectory(t)
	conversation := domain.Conversation{ID: uuid.New(), Participants: domain.Participants{"alice", "bob"}}

	// Given the pair resolves to one conversation whatever the caller
	conversations.EXPECT().FindOrCreate(gomock.Any(), "bob", "alice").Return(conversation, true, nil)
	conversations.EXPECT().FindOrCreate(gomock.Any(), "alice", "bob").Return(conversation, false, nil)

	first, err := service.StartConversation(context.Background(), domain.StartConversationCommand{CallerID: "bob", TargetID: "alice"})
	req.NoError(err)
	second, err := service.StartConversation(context.Background(), domain.StartConversationCommand{CallerID: "alice", TargetID: "bob"})
	req.NoError(err)

	req.Equal(first.ID, second.ID)
	req.Equal([]string{"alice", "bob"}, lo.Map(first.Participants, func(u domain.User, _ int) string { return u.ID }))
	req.Equal("name-alice", first.Participants[0].Name)
	req.Nil(first.LastMessage)
}

func TestDirectoryService_StartConversation_Errors(t *testing.T) {
	req := require.New(t)
	service, _, _, _ := newDirectory(t)
	ctx := context.Background()

	_, err := service.StartConversation(ctx, domain.StartConversationCommand{CallerID: "alice", TargetID: "alice"})
	req.ErrorIs(err, errors.ErrSelfConversation)
	req.ErrorIs(err, errors.ErrValidation)

	_, err = service.StartConversation(ctx, domain.StartConversationCommand{CallerID: "alice", TargetID: "ghost"})
	req.ErrorIs(err, errors.ErrUserNotFound)
	req.ErrorIs(err, errors.ErrNotFound)

	_, err = service.StartConversation(ctx, domain.StartConversationCommand{CallerID: "alice"})
	req.ErrorIs(err, errors.ErrInvalidUserID)
}

func TestDirectoryService_ListConversations_Freshness(t *testing.T) {
	req := require.New(t)
	service, conversations, messages, _ := newDirectory(t)
	now := time.Now().UTC()
	lastID := uuid.New()
	danglingID := uuid.New()
	recent := domain.Conversation{ID: uuid.New(), Participants: domain.Participants{"alice", "bob"},
		LastMessageID: &lastID, LastMessageAt: now, UpdatedAt: now}
	dangling := domain.Conversation{ID: uuid.New(), Participants: domain.Participants{"alice", "carol"},
		LastMessageID: &danglingID, UpdatedAt: now.Add(-time.Minute)}
	empty := domain.Conversation{ID: uuid.New(), Participants: domain.Participants{"alice", "dave"},
		UpdatedAt: now.Add(-time.Hour)}

	conversations.EXPECT().ListForUser(gomock.Any(), "alice").Return([]domain.Conversation{recent, dangling, empty}, nil)
	messages.EXPECT().GetMessage(gomock.Any(), lastID).
		Return(domain.Message{ID: lastID, SenderID: "bob", Content: "latest", CreatedAt: now}, nil)
	messages.EXPECT().GetMessage(gomock.Any(), danglingID).Return(domain.Message{}, errors.ErrMessageNotFound)

	summaries, err := service.ListConversations(context.Background(), "alice")

	// Then the order is kept and the last message is the one the pointer references
	req.NoError(err)
	req.Equal([]uuid.UUID{recent.ID, dangling.ID, empty.ID},
		lo.Map(summaries, func(s domain.ConversationSummary, _ int) uuid.UUID { return s.ID }))
	req.NotNil(summaries[0].LastMessage)
	req.Equal("latest", summaries[0].LastMessage.Content)
	req.Equal("name-bob", summaries[0].LastMessage.Sender.Name)
	req.Nil(summaries[1].LastMessage, "a dangling pointer is rendered as no last message")
	req.Nil(summaries[2].LastMessage)
}
