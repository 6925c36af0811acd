package e2e

import (
	"context"
	"dm-lab/client"
	"dm-lab/domain"
	"dm-lab/projection"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type testDirectMessageSuite struct {
	BaseHTTPSuite
}

func TestDirectMessageSuite(t *testing.T) {
	suite.Run(t, &testDirectMessageSuite{})
}

func (s *testDirectMessageSuite) TestFirstMessageReachesRecipient() {
	s.WithUser("Bob", func(ctx context.Context, bob *client.Session) {
		updates := make(chan domain.ConversationUpdate, 1)

		// --- STEP 1: RECIPIENT FOLLOWS THE INBOX ---
		var watch *client.InboxWatch
		s.Run("Step 1: Bob watches his inbox", func() {
			var err error
			watch, err = bob.WatchInbox(ctx, func(u domain.ConversationUpdate) {
				select {
				case updates <- u:
				default:
				}
			})
			s.Require().NoError(err)
		})
		s.Require().NotNil(watch)
		defer watch.Close()

		s.WithUser("Alice", func(ctx context.Context, alice *client.Session) {
			var conversationID domain.ConversationID

			// --- STEP 2: FIRST MESSAGE CREATES THE CONVERSATION ---
			s.Run("Step 2: Alice sends the first message", func() {
				summary, err := alice.API().StartConversation(ctx, bob.UserID())
				s.Require().NoError(err)
				conversationID = summary.ID

				view, err := alice.OpenConversation(ctx, conversationID)
				s.Require().NoError(err)
				defer view.Close()

				entry, err := view.Send(ctx, "hello bob")
				s.Require().NoError(err)
				s.Require().Equal(projection.StatusSent, entry.Status)
				s.Require().Equal([]string{alice.UserID()}, entry.Message.ReadBy)
			})

			// --- STEP 3: INBOX UPDATE ---
			s.Run("Step 3: Bob is notified on his user channel", func() {
				select {
				case u := <-updates:
					s.Require().Equal(conversationID, u.ConversationID)
					s.Require().Equal("hello bob", u.LastMessage.Content)
				case <-time.After(5 * time.Second):
					s.Fail("no conversation update received")
				}
			})

			// --- STEP 4: HISTORY ---
			s.Run("Step 4: Bob opens the conversation and reads it", func() {
				view, err := bob.OpenConversation(ctx, conversationID)
				s.Require().NoError(err)
				defer view.Close()

				entries := view.Entries()
				s.Require().Len(entries, 1)
				s.Require().Equal("hello bob", entries[0].Message.Content)

				messages, err := bob.API().ListMessages(ctx, conversationID)
				s.Require().NoError(err)
				s.Require().ElementsMatch([]string{alice.UserID(), bob.UserID()}, messages[0].ReadBy)
			})
		})
	})
}

func (s *testDirectMessageSuite) TestOutsiderCannotReadConversation() {
	s.WithUser("Carol", func(ctx context.Context, carol *client.Session) {
		s.WithUser("Dave", func(ctx context.Context, dave *client.Session) {
			summary, err := dave.API().StartConversation(ctx, carol.UserID())
			s.Require().NoError(err)

			s.WithUser("Mallory", func(ctx context.Context, mallory *client.Session) {
				_, err := mallory.API().ListMessages(ctx, summary.ID)
				s.Require().Error(err)
				_, err = mallory.OpenConversation(ctx, summary.ID)
				s.Require().Error(err)
			})
		})
	})
}

