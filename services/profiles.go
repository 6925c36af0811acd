package services

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/repositories"
	"log/slog"
)

// profileCache resolves display fields of users once per request.
// Unknown users degrade to an id-only profile.
type profileCache struct {
	users repositories.IUserRepository
	log   *slog.Logger
	seen  map[string]domain.User
}

func newProfileCache(users repositories.IUserRepository, log *slog.Logger) *profileCache {
	return &profileCache{users: users, log: log, seen: make(map[string]domain.User)}
}

func (p *profileCache) get(ctx context.Context, userID string) (domain.User, error) {
	if profile, ok := p.seen[userID]; ok {
		return profile, nil
	}
	user, err := p.users.GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, errors.ErrUserNotFound):
		p.log.Warn("Unknown user referenced", "user_id", userID)
		p.seen[userID] = domain.User{ID: userID}
	case err != nil:
		return domain.User{}, err
	default:
		p.seen[userID] = user.Profile()
	}
	return p.seen[userID], nil
}
