package server

import (
	"context"
	"dm-lab/auth"
	"dm-lab/contract"
	"dm-lab/domain"
	"dm-lab/domain/event"
	"dm-lab/errors"
	"dm-lab/observability"
	"dm-lab/repositories"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SocketServer relays bus channels to WebSocket clients.
// A client subscribes to channels with subscribe frames; every envelope published on
// a subscribed channel afterwards is pushed as an event frame, in publish order.
// Clients may only subscribe to their own user channel and to conversations they
// participate in.
type SocketServer struct {
	log           *slog.Logger
	subscriber    contract.Subscriber
	conversations repositories.IConversationRepository
	monitoring    *observability.Monitoring
	bufferSize    int
	upgrader      websocket.Upgrader
}

func NewSocketServer(log *slog.Logger, subscriber contract.Subscriber,
	conversations repositories.IConversationRepository,
	monitoring *observability.Monitoring, bufferSize int) *SocketServer {
	return &SocketServer{
		log:           log,
		subscriber:    subscriber,
		conversations: conversations,
		monitoring:    monitoring,
		bufferSize:    bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication is the bearer token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and serves the relay protocol until the client leaves.
// It must run behind auth.Middleware.
func (s *SocketServer) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c.Request.Context())
		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			s.log.Debug("WebSocket upgrade failed", "user_id", userID, "error", err)
			return
		}

		conn := newConnection(userID, ws, s.bufferSize)
		s.monitoring.AddActiveSockets(1)
		defer s.monitoring.AddActiveSockets(-1)

		go conn.writeLoop()
		s.serve(c.Request.Context(), conn)
	}
}

// serve is the read loop of one socket. Subscriptions are only touched from here.
func (s *SocketServer) serve(ctx context.Context, conn *connection) {
	ctx, cancel := context.WithCancel(ctx)
	subscriptions := make(map[string]contract.Subscription)
	defer func() {
		cancel()
		for _, sub := range subscriptions {
			_ = sub.Close()
		}
		conn.Close(websocket.CloseNormalClosure, "session closed")
		s.log.Debug("Socket closed", "user_id", conn.userID, "connection_id", conn.id)
	}()

	conn.ws.SetReadLimit(maxFrameSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug("Socket read failed", "user_id", conn.userID, "error", err)
			}
			return
		}
		// Any frame from the client proves it is alive.
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame event.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.replyError(conn, "", errors.ErrValidation)
			continue
		}

		switch frame.Type {
		case event.FrameSubscribe:
			if _, ok := subscriptions[frame.Channel]; ok {
				_ = conn.Send(event.Frame{Type: event.FrameSubscribed, Channel: frame.Channel})
				continue
			}
			sub, err := s.subscribe(ctx, conn, frame.Channel)
			if err != nil {
				s.replyError(conn, frame.Channel, err)
				continue
			}
			subscriptions[frame.Channel] = sub
		case event.FrameUnsubscribe:
			if sub, ok := subscriptions[frame.Channel]; ok {
				_ = sub.Close()
				delete(subscriptions, frame.Channel)
			}
		default:
			s.replyError(conn, frame.Channel, errors.ErrValidation)
		}
	}
}

// subscribe authorizes the channel, opens a bus subscription and acknowledges it.
// The acknowledgement is queued before the first event so a client that waits for
// it knows every later publication will reach it.
func (s *SocketServer) subscribe(ctx context.Context, conn *connection, channel string) (contract.Subscription, error) {
	if err := s.authorize(ctx, conn.userID, channel); err != nil {
		return nil, err
	}
	sub, err := s.subscriber.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(event.Frame{Type: event.FrameSubscribed, Channel: channel}); err != nil {
		_ = sub.Close()
		return nil, err
	}
	go s.pump(conn, sub)
	return sub, nil
}

func (s *SocketServer) pump(conn *connection, sub contract.Subscription) {
	for envelope := range sub.Events() {
		if err := conn.Send(event.EventFrame(envelope)); err != nil {
			s.log.Debug("Dropping relay pump", "user_id", conn.userID,
				"channel", sub.Channel(), "error", err)
			return
		}
	}
}

func (s *SocketServer) authorize(ctx context.Context, userID, channel string) error {
	kind, id := domain.ParseChannel(channel)
	switch kind {
	case domain.UserChannelKind:
		if id != userID {
			return errors.ErrForeignChannel
		}
		return nil
	case domain.ConversationChannelKind:
		conversation, err := s.conversations.GetConversation(ctx, uuid.MustParse(id))
		if err != nil {
			return err
		}
		if !conversation.Participants.Contains(userID) {
			return errors.ErrNotParticipant
		}
		return nil
	default:
		return errors.ErrInvalidChannel
	}
}

func (s *SocketServer) replyError(conn *connection, channel string, err error) {
	message := err.Error()
	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		s.log.Error("Subscription failed", "user_id", conn.userID, "channel", channel, "error", err)
		message = http.StatusText(http.StatusInternalServerError)
	}
	_ = conn.Send(event.Frame{Type: event.FrameError, Channel: channel, Error: message})
}
