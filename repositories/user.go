//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/observability"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	CreateUser(ctx context.Context, name, email, hashedPassword string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

type UserRepository struct {
	db         *badger.DB
	monitoring *observability.Monitoring
}

func NewUserRepository(db *badger.DB, monitoring *observability.Monitoring) UserRepository {
	return UserRepository{db: db, monitoring: monitoring}
}

// User is the account record. Profile exposes the display fields the messaging
// core works with.
type User struct {
	ID           string
	Name         string
	Email        string
	Image        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

func (u User) Profile() domain.User {
	return domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
}

// CreateUser persists a new account keyed by its normalized email.
// It returns ErrUserAlreadyExists when the email is taken.
func (r UserRepository) CreateUser(ctx context.Context, name, email, hashedPassword string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           id.String(),
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PasswordHash: hashedPassword,
		Roles:        []string{"user"},
		CreatedAt:    time.Now().UTC(),
	}
	data := encodeUser(user)

	err = update(r.db, r.monitoring, func(txn *badger.Txn) error {
		key := userKey(user.Email)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(userIDKey(user.ID), []byte(user.Email))
	})
	if err != nil {
		return User{}, errors.Storage(err)
	}
	return user, nil
}

func (r UserRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	var user User
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = readUser(txn, userKey(email))
		return err
	})
	return user, errors.Storage(err)
}

func (r UserRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	var user User
	err := r.db.View(func(txn *badger.Txn) error {
		email, err := getValue(txn, userIDKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		user, err = readUser(txn, userKey(string(email)))
		return err
	})
	return user, errors.Storage(err)
}

// ListUsers returns every account sorted by name, then id.
func (r UserRepository) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := []User{}
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("user:")
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				user, err := decodeUser(value)
				if err != nil {
					return err
				}
				users = append(users, user)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Storage(err)
	}
	slices.SortFunc(users, func(a, b User) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

func readUser(txn *badger.Txn, key []byte) (User, error) {
	value, err := getValue(txn, key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return decodeUser(value)
}
