//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/observability"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IConversationRepository interface {
	FindOrCreate(ctx context.Context, userA, userB string) (domain.Conversation, bool, error)
	GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error)
	TouchLastMessage(ctx context.Context, id domain.ConversationID, messageID uuid.UUID, at time.Time) (domain.Conversation, error)
}

type ConversationRepository struct {
	db         *badger.DB
	log        *slog.Logger
	monitoring *observability.Monitoring
	clock      func() time.Time
}

func NewConversationRepository(db *badger.DB, log *slog.Logger, monitoring *observability.Monitoring) ConversationRepository {
	return ConversationRepository{
		db:         db,
		log:        log,
		monitoring: monitoring,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// FindOrCreate returns the conversation of the pair, creating it if needed.
// The pair key is read and written in the same transaction, so two concurrent
// creators conflict on commit; the loser retries and finds the winner's record.
// created is true only for the caller that wrote the record.
func (r ConversationRepository) FindOrCreate(ctx context.Context, userA, userB string) (domain.Conversation, bool, error) {
	participants, err := domain.NewParticipants(userA, userB)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, false, err
	}

	var conversation domain.Conversation
	var created bool
	err = update(r.db, r.monitoring, func(txn *badger.Txn) error {
		created = false
		value, err := getValue(txn, pairKey(participants))
		switch {
		case err == nil:
			id, err := uuid.ParseBytes(value)
			if err != nil {
				return err
			}
			conversation, err = readConversation(txn, id)
			return err
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		now := r.clock()
		conversation = domain.Conversation{
			ID:           id,
			Participants: participants,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := txn.Set(conversationKey(id), encodeConversation(conversation)); err != nil {
			return err
		}
		if err := txn.Set(pairKey(participants), []byte(id.String())); err != nil {
			return err
		}
		for _, userID := range participants {
			if err := txn.Set(userConversationKey(userID, id), nil); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, false, errors.Storage(err)
	}
	if created {
		r.log.Info("Conversation created", "conversation_id", conversation.ID,
			"participants", participants.Key())
	}
	return conversation, created, nil
}

func (r ConversationRepository) GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, err
	}
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = readConversation(txn, id)
		return err
	})
	return conversation, errors.Storage(err)
}

// ListForUser returns the conversations userID takes part in, most recently
// updated first.
func (r ConversationRepository) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conversations := []domain.Conversation{}
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := userConversationPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = []byte(prefix)
		it := txn.NewIterator(options)
		defer it.Close()

		var ids []domain.ConversationID
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			id, err := uuid.Parse(strings.TrimPrefix(string(it.Item().Key()), prefix))
			if err != nil {
				r.log.Warn("Skipping malformed membership key", "key", string(it.Item().Key()))
				continue
			}
			ids = append(ids, id)
		}
		for _, id := range ids {
			conversation, err := readConversation(txn, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Storage(err)
	}
	SortByRecency(conversations)
	return conversations, nil
}

// TouchLastMessage moves the last message pointer to messageID unless the current
// pointer already references a newer message. UpdatedAt never decreases.
func (r ConversationRepository) TouchLastMessage(ctx context.Context, id domain.ConversationID, messageID uuid.UUID, at time.Time) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, err
	}
	var conversation domain.Conversation
	err := update(r.db, r.monitoring, func(txn *badger.Txn) error {
		var err error
		conversation, err = readConversation(txn, id)
		if err != nil {
			return err
		}
		if !conversation.Supersedes(messageID, at) {
			return nil
		}
		conversation.LastMessageID = &messageID
		conversation.LastMessageAt = at
		if at.After(conversation.UpdatedAt) {
			conversation.UpdatedAt = at
		}
		return txn.Set(conversationKey(id), encodeConversation(conversation))
	})
	return conversation, errors.Storage(err)
}

// SortByRecency orders conversations by UpdatedAt descending, then id descending.
func SortByRecency(conversations []domain.Conversation) {
	slices.SortStableFunc(conversations, func(a, b domain.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
}

func readConversation(txn *badger.Txn, id domain.ConversationID) (domain.Conversation, error) {
	value, err := getValue(txn, conversationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	return decodeConversation(value)
}
