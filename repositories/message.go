//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/observability"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	StoreMessage(ctx context.Context, message domain.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error)
	ListAndMarkRead(ctx context.Context, conversationID domain.ConversationID, readerID string) ([]domain.Message, error)
}

type MessageRepository struct {
	db         *badger.DB
	log        *slog.Logger
	monitoring *observability.Monitoring
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, monitoring *observability.Monitoring) MessageRepository {
	return MessageRepository{db: db, log: log, monitoring: monitoring}
}

// StoreMessage persists a message and its id index in one transaction.
// ClientMsgID is not part of the record.
func (m MessageRepository) StoreMessage(ctx context.Context, message domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := messageKey(message)
	value := encodeMessage(message)
	err := update(m.db, m.monitoring, func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(messageIDKey(message.ID), key)
	})
	return errors.Storage(err)
}

func (m MessageRepository) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		key, err := getValue(txn, messageIDKey(id))
		if err != nil {
			return err
		}
		value, err := getValue(txn, key)
		if err != nil {
			return err
		}
		message, err = decodeMessage(value)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	return message, errors.Storage(err)
}

// ListMessages returns every message of the conversation with a prefix scan.
// Thanks to the padded timestamp in the key, messages come out in ascending
// CreatedAt order, ties broken by id.
func (m MessageRepository) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = scanMessages(txn, conversationID, nil)
		return err
	})
	return messages, errors.Storage(err)
}

// markReadBatchSize bounds the records rewritten per transaction so a long unread
// backlog stays under Badger's transaction size limit.
const markReadBatchSize = 128

// ListAndMarkRead returns the conversation history after adding readerID to the read
// set of every message it did not author. The read sets only grow: a message already
// read is not rewritten. Rewrites are committed in batches; an interrupted call leaves
// a prefix marked and the next call finishes the rest.
func (m MessageRepository) ListAndMarkRead(ctx context.Context, conversationID domain.ConversationID, readerID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages, dirty []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = scanMessages(txn, conversationID, func(message *domain.Message) {
			if message.SenderID != readerID && message.MarkReadBy(readerID) {
				dirty = append(dirty, *message)
			}
		})
		return err
	})
	if err != nil {
		return nil, errors.Storage(err)
	}

	for _, batch := range lo.Chunk(dirty, markReadBatchSize) {
		err := update(m.db, m.monitoring, func(txn *badger.Txn) error {
			return markRead(txn, batch, readerID)
		})
		if err != nil {
			return nil, errors.Storage(err)
		}
	}
	if len(dirty) > 0 {
		m.log.Debug(fmt.Sprintf("Marked %d message(s) as read", len(dirty)),
			"conversation_id", conversationID, "reader_id", readerID)
	}
	return messages, nil
}

// markRead re-reads each record inside txn so a concurrent reader is never lost.
func markRead(txn *badger.Txn, batch []domain.Message, readerID string) error {
	for _, message := range batch {
		key := messageKey(message)
		value, err := getValue(txn, key)
		if err != nil {
			return err
		}
		stored, err := decodeMessage(value)
		if err != nil {
			return err
		}
		if !stored.MarkReadBy(readerID) {
			continue
		}
		if err := txn.Set(key, encodeMessage(stored)); err != nil {
			return err
		}
	}
	return nil
}

func scanMessages(txn *badger.Txn, conversationID domain.ConversationID, visit func(*domain.Message)) ([]domain.Message, error) {
	prefix := []byte(messagePrefix(conversationID))
	options := badger.DefaultIteratorOptions
	options.Prefix = prefix
	it := txn.NewIterator(options)
	defer it.Close()

	messages := []domain.Message{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var message domain.Message
		err := it.Item().Value(func(value []byte) error {
			var err error
			message, err = decodeMessage(value)
			return err
		})
		if err != nil {
			return nil, err
		}
		if visit != nil {
			visit(&message)
		}
		messages = append(messages, message)
	}
	return messages, nil
}
