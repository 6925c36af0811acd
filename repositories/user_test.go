package repositories

import (
	"context"
	"dm-lab/errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func Test_Create_And_Get_User(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewUserRepository(openTestDB(t), nil)

	created, err := repository.CreateUser(ctx, " Alice ", "Alice@Example.com", "hash")
	req.NoError(err)
	req.NotEmpty(created.ID)
	req.Equal("Alice", created.Name)
	req.Equal("alice@example.com", created.Email)

	byEmail, err := repository.GetUserByEmail(ctx, "ALICE@example.com ")
	req.NoError(err)
	req.Equal(created.ID, byEmail.ID)
	req.Equal("hash", byEmail.PasswordHash)
	req.Equal([]string{"user"}, byEmail.Roles)

	byID, err := repository.GetUserByID(ctx, created.ID)
	req.NoError(err)
	req.Equal(created.Profile(), byID.Profile())
}

func Test_Create_User_Twice(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewUserRepository(openTestDB(t), nil)

	_, err := repository.CreateUser(ctx, "Alice", "alice@example.com", "hash")
	req.NoError(err)
	_, err = repository.CreateUser(ctx, "Other", "alice@example.com", "hash")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_Unknown_User(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewUserRepository(openTestDB(t), nil)

	_, err := repository.GetUserByEmail(ctx, "ghost@example.com")
	req.ErrorIs(err, errors.ErrUserNotFound)
	_, err = repository.GetUserByID(ctx, "ghost")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func Test_List_Users_Sorted_By_Name(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewUserRepository(openTestDB(t), nil)
	for _, u := range [][2]string{{"carol", "c@x.io"}, {"Alice", "a@x.io"}, {"bob", "b@x.io"}} {
		_, err := repository.CreateUser(ctx, u[0], u[1], "hash")
		req.NoError(err)
	}

	users, err := repository.ListUsers(ctx)
	req.NoError(err)
	req.Equal([]string{"Alice", "bob", "carol"}, lo.Map(users, func(u User, _ int) string { return u.Name }))
}
