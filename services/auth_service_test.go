package services

import (
	"context"
	"dm-lab/auth"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/mocks"
	"dm-lab/repositories"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAuthService_Register(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockIUserRepository(ctrl)
	mockIndex := mocks.NewMockIUserIndex(ctrl)
	issuer := auth.NewTokenIssuer("test-secret", 24*time.Hour)
	svc := NewAuthService(logs.GetLoggerFromLevel(slog.LevelDebug), mockRepo, issuer, mockIndex)

	t.Run("should register and index the user when input is valid", func(t *testing.T) {
		req := require.New(t)
		request := auth.RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "ComplexPass123!"}

		// The repository receives a hash, never the plain password
		mockRepo.EXPECT().
			CreateUser(gomock.Any(), "Alice", "alice@example.com", gomock.Not(request.Password)).
			Return(repositories.User{ID: "user-1", Name: "Alice", Email: "alice@example.com", Roles: []string{"user"}}, nil)
		mockIndex.EXPECT().Index(domain.User{ID: "user-1", Name: "Alice", Email: "alice@example.com"}).Return(nil)

		session, err := svc.Register(context.Background(), request)

		req.NoError(err)
		req.Equal("user-1", session.UserID)
		claims, err := issuer.ValidateToken(session.Token)
		req.NoError(err)
		req.Equal("user-1", claims.UserID)
	})

	t.Run("should fail before hashing when password complexity is not met", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().CreateUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		session, err := svc.Register(context.Background(), auth.RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "simple"})

		req.ErrorIs(err, errors.ErrValidation)
		req.Empty(session.Token)
	})

	t.Run("should fail when the email is taken", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().
			CreateUser(gomock.Any(), gomock.Any(), "dup@example.com", gomock.Any()).
			Return(repositories.User{}, errors.ErrUserAlreadyExists)

		_, err := svc.Register(context.Background(), auth.RegisterRequest{Name: "Dup", Email: "dup@example.com", Password: "ComplexPass123!"})

		req.ErrorIs(err, errors.ErrUserAlreadyExists)
	})

	t.Run("should still register when indexing fails", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().CreateUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(repositories.User{ID: "user-2"}, nil)
		mockIndex.EXPECT().Index(gomock.Any()).Return(fmt.Errorf("index closed"))

		session, err := svc.Register(context.Background(), auth.RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "ComplexPass123!"})

		req.NoError(err)
		req.Equal("user-2", session.UserID)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockIUserRepository(ctrl)
	issuer := auth.NewTokenIssuer("test-secret", 24*time.Hour)
	svc := NewAuthService(logs.GetLoggerFromLevel(slog.LevelDebug), mockRepo, issuer, mocks.NewMockIUserIndex(ctrl))
	password := "ComplexPass123!"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user := repositories.User{ID: "user-1", Email: "user@example.com", PasswordHash: hash, Roles: []string{"user"}}

	t.Run("should login with correct credentials", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().GetUserByEmail(gomock.Any(), "user@example.com").Return(user, nil)

		session, err := svc.Login(context.Background(), auth.LoginRequest{Email: "user@example.com", Password: password})

		req.NoError(err)
		req.Equal("user-1", session.UserID)
		req.NotEmpty(session.Token)
	})

	t.Run("should fail with a wrong password", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().GetUserByEmail(gomock.Any(), "user@example.com").Return(user, nil)

		_, err := svc.Login(context.Background(), auth.LoginRequest{Email: "user@example.com", Password: "WrongPass123!"})

		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})

	t.Run("should not reveal unknown emails", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().GetUserByEmail(gomock.Any(), "ghost@example.com").Return(repositories.User{}, errors.ErrUserNotFound)

		_, err := svc.Login(context.Background(), auth.LoginRequest{Email: "ghost@example.com", Password: password})

		req.ErrorIs(err, errors.ErrInvalidCredentials)
		req.NotErrorIs(err, errors.ErrNotFound)
	})
}

var _ IAuthService = (*mocks.MockIAuthService)(nil)

func TestAuthService_Session_Is_Served_As_Issued(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	service := mocks.NewMockIAuthService(ctrl)
	issued := auth.Session{Token: "token", UserID: "alice"}
	service.EXPECT().Login(gomock.Any(), auth.LoginRequest{Email: "alice@example.com"}).Return(issued, nil)

	var svc IAuthService = service
	session, err := svc.Login(context.Background(), auth.LoginRequest{Email: "alice@example.com"})

	req.NoError(err)
	req.Equal(issued, session)
}
