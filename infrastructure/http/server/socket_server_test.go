package server

import (
	"context"
	"dm-lab/auth"
	"dm-lab/domain"
	"dm-lab/domain/event"
	"dm-lab/errors"
	"dm-lab/infrastructure/bus"
	"dm-lab/mocks"
	"dm-lab/observability"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type relay struct {
	url        string
	issuer     auth.TokenIssuer
	bus        *bus.MemoryBus
	monitoring *observability.Monitoring
}

func startRelay(t *testing.T, conversations *mocks.MockIConversationRepository) relay {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	monitoring := observability.NewMonitoring()
	memoryBus := bus.NewMemoryBus(log, 16, 100*time.Millisecond, monitoring)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = memoryBus.Worker().Run(ctx)
		close(done)
	}()

	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	sockets := NewSocketServer(log, memoryBus, conversations, monitoring, 16)
	server := NewServer(log, "", issuer, Services{}, sockets, monitoring)
	httpServer := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		httpServer.Close()
		cancel()
		<-done
		_ = memoryBus.Close()
	})
	return relay{
		url:        "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws",
		issuer:     issuer,
		bus:        memoryBus,
		monitoring: monitoring,
	}
}

func (r relay) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := r.issuer.GenerateToken(userID, nil)
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(r.url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) event.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame event.Frame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func TestSocketServer_Relays_Conversation_Events_To_Participants(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockIConversationRepository(ctrl)
	conversation := domain.Conversation{ID: uuid.New(), Participants: domain.Participants{"alice", "bob"}}
	conversations.EXPECT().GetConversation(gomock.Any(), conversation.ID).Return(conversation, nil)
	r := startRelay(t, conversations)
	channel := domain.ConversationChannel(conversation.ID)

	// Given bob subscribed to the conversation
	ws := r.dial(t, "bob")
	req.NoError(ws.WriteJSON(event.Frame{Type: event.FrameSubscribe, Channel: channel}))
	ack := readFrame(t, ws)
	req.Equal(event.FrameSubscribed, ack.Type)
	req.Equal(channel, ack.Channel)

	// When two messages are published
	for _, content := range []string{"first", "second"} {
		view := domain.MessageView{ID: uuid.Must(uuid.NewV7()), ConversationID: conversation.ID, Content: content}
		req.NoError(r.bus.Publish(context.Background(), channel, domain.EventNewMessage, view))
	}

	// Then bob receives both, in publish order
	for _, want := range []string{"first", "second"} {
		frame := readFrame(t, ws)
		req.Equal(event.FrameEvent, frame.Type)
		view, err := frame.Envelope().NewMessage()
		req.NoError(err)
		req.Equal(want, view.Content)
	}
	req.EqualValues(1, r.monitoring.Snapshot().ActiveSockets)
}

func TestSocketServer_Rejects_Unauthorized_Channels(t *testing.T) {
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockIConversationRepository(ctrl)
	foreign := domain.Conversation{ID: uuid.New(), Participants: domain.Participants{"alice", "carol"}}
	missing := uuid.New()
	conversations.EXPECT().GetConversation(gomock.Any(), foreign.ID).Return(foreign, nil)
	conversations.EXPECT().GetConversation(gomock.Any(), missing).
		Return(domain.Conversation{}, errors.ErrConversationNotFound)
	r := startRelay(t, conversations)

	testCases := []struct {
		name    string
		channel string
		err     error
	}{
		{"another user's inbox", domain.UserChannel("alice"), errors.ErrForeignChannel},
		{"conversation of others", domain.ConversationChannel(foreign.ID), errors.ErrNotParticipant},
		{"unknown conversation", domain.ConversationChannel(missing), errors.ErrConversationNotFound},
		{"unknown channel", "lobby", errors.ErrInvalidChannel},
	}
	ws := r.dial(t, "bob")
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)

			req.NoError(ws.WriteJSON(event.Frame{Type: event.FrameSubscribe, Channel: tc.channel}))

			frame := readFrame(t, ws)
			req.Equal(event.FrameError, frame.Type)
			req.Equal(tc.channel, frame.Channel)
			req.Equal(tc.err.Error(), frame.Error)
		})
	}
}

func TestSocketServer_Unsubscribe_Stops_Delivery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	r := startRelay(t, mocks.NewMockIConversationRepository(ctrl))
	inbox := domain.UserChannel("bob")

	// Given bob listens to his inbox
	ws := r.dial(t, "bob")
	req.NoError(ws.WriteJSON(event.Frame{Type: event.FrameSubscribe, Channel: inbox}))
	req.Equal(event.FrameSubscribed, readFrame(t, ws).Type)

	// When he unsubscribes
	req.NoError(ws.WriteJSON(event.Frame{Type: event.FrameUnsubscribe, Channel: inbox}))
	req.Eventually(func() bool {
		return r.monitoring.Snapshot().Subscriptions == 0
	}, time.Second, 10*time.Millisecond)

	// Then later updates are not relayed, and a fresh subscription still works
	req.NoError(r.bus.Publish(context.Background(), inbox, domain.EventConversationUpdate,
		domain.ConversationUpdate{ConversationID: uuid.New()}))
	req.NoError(ws.WriteJSON(event.Frame{Type: event.FrameSubscribe, Channel: inbox}))
	req.Equal(event.FrameSubscribed, readFrame(t, ws).Type)
}

func TestSocketServer_Requires_Token(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	r := startRelay(t, mocks.NewMockIConversationRepository(ctrl))

	_, response, err := websocket.DefaultDialer.Dial(r.url, nil)

	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(401, response.StatusCode)
}

func TestSocketServer_Closes_Subscriptions_On_Disconnect(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	r := startRelay(t, mocks.NewMockIConversationRepository(ctrl))

	ws := r.dial(t, "bob")
	req.NoError(ws.WriteJSON(event.Frame{Type: event.FrameSubscribe, Channel: domain.UserChannel("bob")}))
	req.Equal(event.FrameSubscribed, readFrame(t, ws).Type)
	req.EqualValues(1, r.monitoring.Snapshot().Subscriptions)

	req.NoError(ws.Close())

	req.Eventually(func() bool {
		stats := r.monitoring.Snapshot()
		return stats.Subscriptions == 0 && stats.ActiveSockets == 0
	}, 2*time.Second, 10*time.Millisecond)
}
