package client

import (
	"context"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/projection"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// gateSend holds message sends until release is closed.
type gateSend struct {
	next    http.RoundTripper
	arrived chan struct{}
	release chan struct{}
}

func (g gateSend) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.HasSuffix(r.URL.Path, "/api/messages/send") {
		close(g.arrived)
		<-g.release
	}
	return g.next.RoundTrip(r)
}

// failFirstSend rejects the first send before it leaves the client.
type failFirstSend struct {
	next   http.RoundTripper
	failed atomic.Bool
}

func (f *failFirstSend) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.HasSuffix(r.URL.Path, "/api/messages/send") && f.failed.CompareAndSwap(false, true) {
		return nil, errConnectionReset
	}
	return f.next.RoundTrip(r)
}

func contents(entries []projection.Entry) []string {
	return lo.Map(entries, func(e projection.Entry, _ int) string { return e.Message.Content })
}

func TestSession_First_Message_Creates_Conversation_And_Shows_Sending_Then_Sent(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	gate := gateSend{next: http.DefaultTransport, arrived: make(chan struct{}), release: make(chan struct{})}
	alice := s.register(t, "Alice", &http.Client{Transport: gate})
	bob := s.register(t, "Bob", nil)

	// Given alice starts a conversation with bob, with no prior one
	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)
	view, err := alice.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer view.Close()

	// When she sends "hello"
	type result struct {
		entry projection.Entry
		err   error
	}
	done := make(chan result, 1)
	go func() {
		entry, err := view.Send(ctx, "hello")
		done <- result{entry, err}
	}()

	// Then the message is shown as sending while the request is in flight
	<-gate.arrived
	pending := view.Entries()
	req.Len(pending, 1)
	req.Equal(projection.StatusSending, pending[0].Status)
	req.True(pending[0].Provisional())
	close(gate.release)

	// And as sent once the server answered
	sent := <-done
	req.NoError(sent.err)
	req.Equal(projection.StatusSent, sent.entry.Status)
	entries := view.Entries()
	req.Len(entries, 1)
	req.Equal(projection.StatusSent, entries[0].Status)
	req.Equal(sent.entry.Message.ID, entries[0].Message.ID)

	// And the server holds one conversation [alice, bob] with the message
	conversations, err := s.conversations.ListForUser(ctx, alice.UserID())
	req.NoError(err)
	req.Len(conversations, 1)
	req.True(conversations[0].Participants.Contains(alice.UserID()))
	req.True(conversations[0].Participants.Contains(bob.UserID()))
	stored, err := s.messages.ListMessages(ctx, summary.ID)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal("hello", stored[0].Content)
	req.Equal(alice.UserID(), stored[0].SenderID)
	req.Equal([]string{alice.UserID()}, stored[0].ReadBy)
}

func TestSession_Recipient_With_Open_Conversation_Receives_Message_Live(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", nil)
	bob := s.register(t, "Bob", nil)

	// Given bob has the conversation open
	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)
	bobView, err := bob.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer bobView.Close()
	aliceView, err := alice.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer aliceView.Close()

	// When alice sends "hello"
	_, err = aliceView.Send(ctx, "hello")
	req.NoError(err)

	// Then bob's timeline gets it, sent, without refetching
	req.Eventually(func() bool {
		entries := bobView.Entries()
		return len(entries) == 1 &&
			entries[0].Message.Content == "hello" &&
			entries[0].Status == projection.StatusSent
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal(alice.UserID(), bobView.Entries()[0].Message.Sender.ID)

	// And alice's own event did not duplicate her entry
	req.Never(func() bool { return len(aliceView.Entries()) != 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestSession_Lost_Response_After_Persistence_Settles_On_One_Sent_Entry(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", &http.Client{Transport: dropSendResponse{next: http.DefaultTransport}})
	bob := s.register(t, "Bob", nil)

	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)
	view, err := alice.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer view.Close()

	// When the send is persisted but its response is lost
	_, err = view.Send(ctx, "hello")
	req.Error(err)

	// Then the bus event still settles the entry: one "hello", sent
	req.Eventually(func() bool {
		entries := view.Entries()
		return len(entries) == 1 && entries[0].Status == projection.StatusSent
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal([]string{"hello"}, contents(view.Entries()))
	req.False(view.Entries()[0].Provisional())
}

func TestSession_Retry_After_Failed_Send(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", &http.Client{Transport: &failFirstSend{next: http.DefaultTransport}})
	bob := s.register(t, "Bob", nil)

	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)
	view, err := alice.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer view.Close()

	// Given a send that never reached the server
	failed, err := view.Send(ctx, "hello")
	req.Error(err)
	req.Equal(projection.StatusError, failed.Status)
	req.Equal(projection.StatusError, view.Entries()[0].Status)

	// When the user retries it
	retried, err := view.Retry(ctx, failed.TempID)

	// Then the same entry ends sent, once
	req.NoError(err)
	req.Equal(projection.StatusSent, retried.Status)
	req.Equal(failed.TempID, retried.TempID)
	entries := view.Entries()
	req.Len(entries, 1)
	req.Equal(projection.StatusSent, entries[0].Status)

	// And retrying a sent message is refused
	_, err = view.Retry(ctx, failed.TempID)
	req.ErrorIs(err, errors.ErrValidation)
}

func TestSession_WatchInbox_Receives_Conversation_Updates(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", nil)
	bob := s.register(t, "Bob", nil)

	// Given bob watches his inbox
	updates := make(chan domain.ConversationUpdate, 4)
	watch, err := bob.WatchInbox(ctx, func(u domain.ConversationUpdate) { updates <- u })
	req.NoError(err)

	// When alice writes to him
	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)
	view, err := alice.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer view.Close()
	_, err = view.Send(ctx, "hello")
	req.NoError(err)

	// Then he is told which conversation moved and its last message
	select {
	case update := <-updates:
		req.Equal(summary.ID, update.ConversationID)
		req.Equal("hello", update.LastMessage.Content)
	case <-time.After(2 * time.Second):
		req.FailNow("no conversation update")
	}

	// And the refetched inbox has the new last message on top
	inbox, err := bob.API().ListConversations(ctx)
	req.NoError(err)
	req.Len(inbox, 1)
	req.NotNil(inbox[0].LastMessage)
	req.Equal("hello", inbox[0].LastMessage.Content)

	req.NoError(watch.Close())
}

func TestSession_Outsider_Cannot_Open_Conversation(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", nil)
	bob := s.register(t, "Bob", nil)
	carol := s.register(t, "Carol", nil)

	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)

	_, err = carol.OpenConversation(ctx, summary.ID)
	req.ErrorIs(err, errors.ErrNotParticipant)

	_, err = carol.API().ListMessages(ctx, summary.ID)
	req.ErrorIs(err, errors.ErrNotParticipant)
}

func TestSession_Reopened_Conversation_Loads_History_In_Order(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", nil)
	bob := s.register(t, "Bob", nil)

	summary, err := alice.API().StartConversation(ctx, bob.UserID())
	req.NoError(err)
	view, err := alice.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	for _, content := range []string{"one", "two", "three"} {
		_, err := view.Send(ctx, content)
		req.NoError(err)
	}
	req.NoError(view.Close())

	// When bob opens the conversation later
	bobView, err := bob.OpenConversation(ctx, summary.ID)
	req.NoError(err)
	defer bobView.Close()

	// Then he sees the history in send order and has now read it
	req.Equal([]string{"one", "two", "three"}, contents(bobView.Entries()))
	stored, err := s.messages.ListMessages(ctx, summary.ID)
	req.NoError(err)
	for _, message := range stored {
		req.ElementsMatch([]string{alice.UserID(), bob.UserID()}, message.ReadBy)
	}
}

func TestAPI_Search_Users(t *testing.T) {
	req := require.New(t)
	s := startStack(t)
	ctx := context.Background()
	alice := s.register(t, "Alice", nil)
	s.register(t, "Bob", nil)
	s.register(t, "Bobby", nil)

	all, err := alice.API().ListUsers(ctx, "")
	req.NoError(err)
	req.Equal([]string{"Bob", "Bobby"}, lo.Map(all, func(u domain.User, _ int) string { return u.Name }))

	found, err := alice.API().ListUsers(ctx, "bobby@")
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("Bobby", found[0].Name)
}
