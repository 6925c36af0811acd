package repositories

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newMessage(conversationID domain.ConversationID, sender, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
		CreatedAt:      at,
		ReadBy:         []string{sender},
	}
}

func Test_Store_And_List_Messages_In_Chronological_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openTestDB(t), testLogger(), nil)
	conversationID := uuid.New()
	at := time.Now().UTC()

	// Given messages stored out of order
	third := newMessage(conversationID, "alice", "three", at.Add(2*time.Minute))
	first := newMessage(conversationID, "bob", "one", at)
	second := newMessage(conversationID, "alice", "two", at.Add(time.Minute))
	for _, m := range []domain.Message{third, first, second} {
		req.NoError(repository.StoreMessage(ctx, m))
	}
	// And a message of another conversation
	req.NoError(repository.StoreMessage(ctx, newMessage(uuid.New(), "carol", "noise", at)))

	// When listing the conversation
	messages, err := repository.ListMessages(ctx, conversationID)

	// Then they come back ascending by CreatedAt
	req.NoError(err)
	req.Equal([]string{"one", "two", "three"}, contents(messages))
	req.Equal(first.ID, messages[0].ID)
	req.Equal(first.CreatedAt.UnixNano(), messages[0].CreatedAt.UnixNano())
}

func Test_Same_Timestamp_Is_Ordered_By_ID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openTestDB(t), testLogger(), nil)
	conversationID := uuid.New()
	at := time.Now().UTC()

	a := newMessage(conversationID, "alice", "a", at)
	b := newMessage(conversationID, "bob", "b", at)
	req.NoError(repository.StoreMessage(ctx, b))
	req.NoError(repository.StoreMessage(ctx, a))

	messages, err := repository.ListMessages(ctx, conversationID)
	req.NoError(err)
	req.Len(messages, 2)
	req.True(messages[0].Before(messages[1]))
}

func Test_List_Empty_Conversation(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), testLogger(), nil)

	messages, err := repository.ListMessages(context.Background(), uuid.New())
	req.NoError(err)
	req.NotNil(messages)
	req.Empty(messages)
}

func Test_Get_Message_By_ID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openTestDB(t), testLogger(), nil)
	message := newMessage(uuid.New(), "alice", "hello", time.Now().UTC())
	message.ClientMsgID = "temp-1"
	req.NoError(repository.StoreMessage(ctx, message))

	stored, err := repository.GetMessage(ctx, message.ID)
	req.NoError(err)
	req.Equal("hello", stored.Content)
	req.Equal([]string{"alice"}, stored.ReadBy)
	req.Empty(stored.ClientMsgID, "client correlation ids are never persisted")

	_, err = repository.GetMessage(ctx, uuid.New())
	req.ErrorIs(err, errors.ErrMessageNotFound)
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_List_And_Mark_Read_Only_Grows_Read_Sets(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMessageRepository(openTestDB(t), testLogger(), nil)
	conversationID := uuid.New()
	at := time.Now().UTC()
	fromAlice := newMessage(conversationID, "alice", "hi bob", at)
	fromBob := newMessage(conversationID, "bob", "hi alice", at.Add(time.Second))
	req.NoError(repository.StoreMessage(ctx, fromAlice))
	req.NoError(repository.StoreMessage(ctx, fromBob))

	// When bob reads the conversation
	messages, err := repository.ListAndMarkRead(ctx, conversationID, "bob")
	req.NoError(err)

	// Then alice's message is read by bob, bob's own message is untouched
	req.ElementsMatch([]string{"alice", "bob"}, messages[0].ReadBy)
	req.Equal([]string{"bob"}, messages[1].ReadBy)

	// When bob reads again, nothing changes
	again, err := repository.ListAndMarkRead(ctx, conversationID, "bob")
	req.NoError(err)
	req.Equal(messages, again)

	// And the read set survives a plain listing
	stored, err := repository.ListMessages(ctx, conversationID)
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, stored[0].ReadBy)
	// And the id index still resolves after the rewrite
	got, err := repository.GetMessage(ctx, fromAlice.ID)
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, got.ReadBy)
}

func Test_List_And_Mark_Read_Large_Backlog(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	// A small memtable keeps the transaction size limit around 150KB.
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithMemTableSize(1 << 20).
		WithValueThreshold(1 << 10))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	repository := NewMessageRepository(db, testLogger(), nil)

	// Given far more unread bytes than one transaction accepts
	conversationID := uuid.New()
	at := time.Now().UTC()
	content := strings.Repeat("x", 500)
	for i := 0; i < 600; i++ {
		req.NoError(repository.StoreMessage(ctx, newMessage(conversationID, "alice", content, at.Add(time.Duration(i)*time.Millisecond))))
	}

	// When bob reads the conversation
	messages, err := repository.ListAndMarkRead(ctx, conversationID, "bob")

	// Then every message is returned and stored as read by bob
	req.NoError(err)
	req.Len(messages, 600)
	stored, err := repository.ListMessages(ctx, conversationID)
	req.NoError(err)
	for _, message := range stored {
		req.ElementsMatch([]string{"alice", "bob"}, message.ReadBy)
	}
}

func Test_Store_Message_Canceled_Context(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repository.StoreMessage(ctx, newMessage(uuid.New(), "alice", "x", time.Now()))
	req.ErrorIs(err, context.Canceled)
}

func contents(messages []domain.Message) []string {
	return lo.Map(messages, func(m domain.Message, _ int) string { return m.Content })
}
