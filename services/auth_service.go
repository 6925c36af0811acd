//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"context"
	"dm-lab/auth"
	"dm-lab/errors"
	"dm-lab/repositories"
	"dm-lab/search"
	"fmt"
	"log/slog"
)

type IAuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (auth.Session, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.Session, error)
}

type AuthService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	issuer         auth.TokenIssuer
	index          search.IUserIndex
}

func NewAuthService(log *slog.Logger, repo repositories.IUserRepository, issuer auth.TokenIssuer, index search.IUserIndex) *AuthService {
	return &AuthService{log: log, userRepository: repo, issuer: issuer, index: index}
}

func (s *AuthService) Register(ctx context.Context, req auth.RegisterRequest) (auth.Session, error) {
	// Validated before any expensive hashing.
	if err := auth.ValidateRegister(req); err != nil {
		return auth.Session{}, err
	}
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return auth.Session{}, fmt.Errorf("hashing failed: %w", err)
	}
	user, err := s.userRepository.CreateUser(ctx, req.Name, req.Email, hashedPassword)
	if err != nil {
		return auth.Session{}, err
	}
	if err := s.index.Index(user.Profile()); err != nil {
		s.log.Warn("User not indexed", "user_id", user.ID, "error", err)
	}
	s.log.Info("User registered", "user_id", user.ID)
	return s.session(user)
}

func (s *AuthService) Login(ctx context.Context, req auth.LoginRequest) (auth.Session, error) {
	if err := auth.ValidateLogin(req); err != nil {
		return auth.Session{}, err
	}
	user, err := s.userRepository.GetUserByEmail(ctx, req.Email)
	if err != nil {
		// Same error for unknown email and wrong password, no user enumeration.
		if errors.Is(err, errors.ErrNotFound) {
			return auth.Session{}, errors.ErrInvalidCredentials
		}
		return auth.Session{}, err
	}
	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return auth.Session{}, err
	}
	return s.session(user)
}

func (s *AuthService) session(user repositories.User) (auth.Session, error) {
	token, err := s.issuer.GenerateToken(user.ID, user.Roles)
	if err != nil {
		return auth.Session{}, err
	}
	return auth.Session{Token: token, UserID: user.ID}, nil
}

var _ IAuthService = (*AuthService)(nil)
