//go:generate go run go.uber.org/mock/mockgen -source=user_service.go -destination=../mocks/mock_user_service.go -package=mocks
package services

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/repositories"
	"dm-lab/search"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const searchLimit = 50

type IUserService interface {
	ListUsers(ctx context.Context, callerID, query string) ([]domain.User, error)
}

type UserService struct {
	log   *slog.Logger
	users repositories.IUserRepository
	index search.IUserIndex
}

func NewUserService(log *slog.Logger, users repositories.IUserRepository, index search.IUserIndex) *UserService {
	return &UserService{log: log, users: users, index: index}
}

// ListUsers returns every user except the caller, sorted by name. A non-empty
// query keeps users whose name or email contains it.
func (s *UserService) ListUsers(ctx context.Context, callerID, query string) ([]domain.User, error) {
	if strings.TrimSpace(query) == "" {
		users, err := s.users.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		return lo.FilterMap(users, func(u repositories.User, _ int) (domain.User, bool) {
			return u.Profile(), u.ID != callerID
		}), nil
	}

	// One extra hit in case the caller is among them.
	ids, err := s.index.Search(ctx, query, searchLimit+1)
	if err != nil {
		return nil, errors.Storage(err)
	}
	ids = lo.Without(ids, callerID)
	if len(ids) > searchLimit {
		ids = ids[:searchLimit]
	}
	found := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.GetUserByID(ctx, id)
		if errors.Is(err, errors.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, user.Profile())
	}
	slices.SortFunc(found, func(a, b domain.User) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return found, nil
}

// Reindex rebuilds the search index from the user repository.
func (s *UserService) Reindex(ctx context.Context) error {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		if err := s.index.Index(user.Profile()); err != nil {
			return fmt.Errorf("index user %s: %w", user.ID, err)
		}
	}
	s.log.Info(fmt.Sprintf("%d user(s) indexed", len(users)))
	return nil
}

var _ IUserService = (*UserService)(nil)
