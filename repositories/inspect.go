package repositories

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// InspectRow is one decoded key/value pair, for debugging tools.
type InspectRow struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	EntityID  string `json:"entity_id"`
	Detail    string `json:"detail"`
}

// Inspect decodes up to limit records under prefix ("" scans everything).
// Password hashes are never exposed.
func Inspect(ctx context.Context, db *badger.DB, prefix string, limit int) ([]InspectRow, error) {
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(rows) >= limit {
				return nil
			}
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				rows = append(rows, describe(key, val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

func describe(key string, val []byte) InspectRow {
	kind, rest, _ := strings.Cut(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      strings.ToUpper(kind),
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	switch kind {
	case "msg":
		m, err := decodeMessage(val)
		if err != nil {
			row.Detail = "Error: " + err.Error()
			return row
		}
		row.Timestamp = m.CreatedAt.Format(time.DateTime)
		row.EntityID = short(m.ID.String())
		row.Detail = fmt.Sprintf("%s: %q read by %d", m.SenderID, m.Content, len(m.ReadBy))
	case "conv":
		c, err := decodeConversation(val)
		if err != nil {
			row.Detail = "Error: " + err.Error()
			return row
		}
		row.Timestamp = c.UpdatedAt.Format(time.DateTime)
		row.EntityID = short(c.ID.String())
		row.Detail = fmt.Sprintf("%s <-> %s", c.Participants[0], c.Participants[1])
		if c.LastMessageID != nil {
			row.Detail += " last " + short(c.LastMessageID.String())
		}
	case "user":
		u, err := decodeUser(val)
		if err != nil {
			row.Detail = "Error: " + err.Error()
			return row
		}
		row.Timestamp = u.CreatedAt.Format(time.DateTime)
		row.EntityID = short(u.ID)
		row.Detail = fmt.Sprintf("%s <%s>", u.Name, u.Email)
	case "pair", "uconv", "msgid", "userid":
		row.EntityID = short(rest)
		row.Detail = "-> " + string(val)
	}
	return row
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
