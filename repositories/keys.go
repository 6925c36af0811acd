package repositories

import (
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/observability"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout:
//
//	msg:{conversation}:{created_at padded}:{message}  message record
//	msgid:{message}                                   -> msg: key
//	conv:{conversation}                               conversation record
//	pair:{userA}:{userB}                              -> conversation id (uniqueness)
//	uconv:{user}:{conversation}                       membership index
//	user:{email}                                      user record
//	userid:{user}                                     -> email
const maxTxnRetries = 10

// messageKey formats "msg:{conversation}:{timestamp_padded}:{uuid}".
// The 19-digit zero padding keeps lexicographical order equal to chronological order,
// and the id breaks ties between messages created in the same nanosecond.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", messagePrefix(m.ConversationID), m.CreatedAt.UnixNano(), m.ID))
}

func messagePrefix(conversationID domain.ConversationID) string {
	return fmt.Sprintf("msg:%s:", conversationID)
}

func messageIDKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

func conversationKey(id domain.ConversationID) []byte {
	return []byte("conv:" + id.String())
}

func pairKey(p domain.Participants) []byte {
	return []byte("pair:" + p.Key())
}

func userConversationPrefix(userID string) string {
	return "uconv:" + userID + ":"
}

func userConversationKey(userID string, id domain.ConversationID) []byte {
	return []byte(userConversationPrefix(userID) + id.String())
}

func userKey(email string) []byte {
	return []byte("user:" + normalizeEmail(email))
}

func userIDKey(id string) []byte {
	return []byte("userid:" + id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// update runs fn in a read-write transaction, retrying when Badger reports a
// conflict with a concurrent transaction. fn must be safe to run several times.
func update(db *badger.DB, monitoring *observability.Monitoring, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err := db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		monitoring.IncrStorageConflicts()
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return errors.ErrTooManyConflicts
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
