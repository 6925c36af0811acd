// Package projection builds the local, reconciled view of a conversation.
// It merges the initial fetch, optimistic sends and bus events into one ordered,
// de-duplicated list. It does no I/O.
package projection

import (
	"dm-lab/domain"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultSendTimeout = 15 * time.Second

type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Entry is one line of the timeline. A provisional entry has no server id yet
// and is identified by its TempID, which is also the clientMsgId sent to the server.
type Entry struct {
	Message     domain.MessageView
	Status      Status
	TempID      string
	SubmittedAt time.Time
}

func (e Entry) Provisional() bool {
	return e.Message.ID == uuid.Nil
}

// Key identifies the entry for rendering: the server id once known, else the temp id.
func (e Entry) Key() string {
	if e.Provisional() {
		return e.TempID
	}
	return e.Message.ID.String()
}

// Timeline is safe for concurrent use: HTTP responses and bus events are applied
// from different goroutines. Every transition is idempotent, and applying the HTTP
// response and the bus event of one send in either order yields the same list.
//
// Layout invariant: authoritative entries come first in server order (CreatedAt,
// then id), provisional entries follow in submit order.
type Timeline struct {
	mu             sync.Mutex
	conversationID domain.ConversationID
	sendTimeout    time.Duration
	entries        []Entry
}

func NewTimeline(conversationID domain.ConversationID, sendTimeout time.Duration) *Timeline {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Timeline{conversationID: conversationID, sendTimeout: sendTimeout}
}

// Submit appends a provisional entry in the sending state and returns it.
func (t *Timeline) Submit(sender domain.User, content string, now time.Time) Entry {
	tempID := NewClientMsgID()
	entry := Entry{
		Message: domain.MessageView{
			ConversationID: t.conversationID,
			Sender:         sender,
			Content:        content,
			CreatedAt:      now,
			ReadBy:         []string{sender.ID},
			ClientMsgID:    tempID,
		},
		Status:      StatusSending,
		TempID:      tempID,
		SubmittedAt: now,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	return entry
}

// Confirm applies a successful send response. The provisional entry becomes the
// authoritative message; when the bus event already delivered it, the provisional
// entry is dropped so only one entry remains.
func (t *Timeline) Confirm(clientMsgID string, message domain.MessageView) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexOfID(message.ID) >= 0 {
		if i := t.indexOfProvisional(clientMsgID); i >= 0 {
			t.entries = slices.Delete(t.entries, i, i+1)
		}
		return
	}
	if i := t.indexOfProvisional(clientMsgID); i >= 0 {
		t.entries = slices.Delete(t.entries, i, i+1)
	}
	t.insertAuthoritative(Entry{Message: message, Status: StatusSent, TempID: clientMsgID})
}

// Fail marks the provisional entry as failed. It stays visible so the user can
// retry. It returns false when the entry is gone, e.g. the bus already confirmed it.
func (t *Timeline) Fail(clientMsgID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOfProvisional(clientMsgID)
	if i < 0 {
		return false
	}
	t.entries[i].Status = StatusError
	return true
}

// Consume applies a new-message event. It returns false when the message was
// already known or belongs to another conversation.
func (t *Timeline) Consume(message domain.MessageView) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if message.ConversationID != t.conversationID || t.indexOfID(message.ID) >= 0 {
		return false
	}
	entry := Entry{Message: message, Status: StatusSent}
	if message.ClientMsgID != "" {
		if i := t.indexOfProvisional(message.ClientMsgID); i >= 0 {
			entry.TempID = message.ClientMsgID
			t.entries = slices.Delete(t.entries, i, i+1)
		}
	}
	t.insertAuthoritative(entry)
	return true
}

// Load merges a fetched history. Messages already known from live events but
// missing from the snapshot are kept, and provisional entries stay at the tail.
func (t *Timeline) Load(messages []domain.MessageView) {
	t.mu.Lock()
	defer t.mu.Unlock()

	known := make(map[uuid.UUID]Entry, len(t.entries))
	var provisional []Entry
	for _, e := range t.entries {
		if e.Provisional() {
			provisional = append(provisional, e)
		} else {
			known[e.Message.ID] = e
		}
	}

	merged := make([]Entry, 0, len(messages)+len(t.entries))
	for _, message := range messages {
		if message.ConversationID != t.conversationID {
			continue
		}
		entry := Entry{Message: message, Status: StatusSent}
		if previous, ok := known[message.ID]; ok {
			entry.TempID = previous.TempID
			if entry.Message.ClientMsgID == "" {
				entry.Message.ClientMsgID = previous.Message.ClientMsgID
			}
			delete(known, message.ID)
		}
		merged = append(merged, entry)
	}
	for _, e := range known {
		merged = append(merged, e)
	}
	slices.SortStableFunc(merged, func(a, b Entry) int {
		switch {
		case before(a.Message, b.Message):
			return -1
		case before(b.Message, a.Message):
			return 1
		default:
			return 0
		}
	})
	merged = slices.CompactFunc(merged, func(a, b Entry) bool { return a.Message.ID == b.Message.ID })
	t.entries = append(merged, provisional...)
}

// Expire fails every entry still sending after the send timeout and returns
// their temp ids.
func (t *Timeline) Expire(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for i, e := range t.entries {
		if e.Status == StatusSending && !now.Before(e.SubmittedAt.Add(t.sendTimeout)) {
			t.entries[i].Status = StatusError
			expired = append(expired, e.TempID)
		}
	}
	return expired
}

// Retry moves a failed entry back to sending, in place, and returns it.
func (t *Timeline) Retry(clientMsgID string, now time.Time) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOfProvisional(clientMsgID)
	if i < 0 || t.entries[i].Status != StatusError {
		return Entry{}, false
	}
	t.entries[i].Status = StatusSending
	t.entries[i].SubmittedAt = now
	return t.entries[i], true
}

// Entries returns a copy of the current list.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Timeline) indexOfID(id uuid.UUID) int {
	if id == uuid.Nil {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e Entry) bool { return e.Message.ID == id })
}

func (t *Timeline) indexOfProvisional(tempID string) int {
	if tempID == "" {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e Entry) bool { return e.Provisional() && e.TempID == tempID })
}

// insertAuthoritative places e at its server order position, ahead of the
// provisional tail. For the latest message this is where its provisional entry was.
func (t *Timeline) insertAuthoritative(e Entry) {
	n := slices.IndexFunc(t.entries, Entry.Provisional)
	if n < 0 {
		n = len(t.entries)
	}
	i := sort.Search(n, func(i int) bool { return !before(t.entries[i].Message, e.Message) })
	t.entries = slices.Insert(t.entries, i, e)
}

func before(a, b domain.MessageView) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// NewClientMsgID returns a fresh correlation token for an optimistic send.
func NewClientMsgID() string {
	return "temp-" + uuid.NewString()
}
