package client

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain/event"
	"dm-lab/errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	defaultBufferSize = 64
)

var ErrSocketClosed = fmt.Errorf("%w: socket closed", errors.ErrDelivery)

// Socket is a client connection to the WebSocket relay. Several subscriptions may
// share a channel; the relay is told to unsubscribe when the last one closes.
type Socket struct {
	log        *slog.Logger
	ws         *websocket.Conn
	bufferSize int

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]map[*subscription]struct{}
	waiters  map[string][]chan error

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

var _ contract.Subscriber = (*Socket)(nil)

// Dial opens the relay at url (see API.SocketURL).
func Dial(ctx context.Context, log *slog.Logger, url string, bufferSize int) (*Socket, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	ws, response, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if response != nil {
			return nil, &APIError{Status: response.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	s := &Socket{
		log:        log,
		ws:         ws,
		bufferSize: bufferSize,
		channels:   make(map[string]map[*subscription]struct{}),
		waiters:    make(map[string][]chan error),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Subscribe returns once the relay acknowledged the channel: every event published
// afterwards is delivered on the subscription, in publish order.
func (s *Socket) Subscribe(ctx context.Context, channel string) (contract.Subscription, error) {
	sub := &subscription{
		socket:  s,
		channel: channel,
		events:  make(chan event.Envelope, s.bufferSize),
		done:    make(chan struct{}),
	}
	ack := make(chan error, 1)

	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil, ErrSocketClosed
	default:
	}
	if s.channels[channel] == nil {
		s.channels[channel] = make(map[*subscription]struct{})
	}
	s.channels[channel][sub] = struct{}{}
	s.waiters[channel] = append(s.waiters[channel], ack)
	s.mu.Unlock()

	if err := s.write(event.Frame{Type: event.FrameSubscribe, Channel: channel}); err != nil {
		sub.release(false)
		return nil, err
	}

	select {
	case err := <-ack:
		if err != nil {
			sub.release(false)
			return nil, err
		}
		return sub, nil
	case <-s.closed:
		sub.release(false)
		return nil, ErrSocketClosed
	case <-ctx.Done():
		_ = sub.Close()
		return nil, ctx.Err()
	}
}

// Close drops the connection and closes every open subscription.
func (s *Socket) Close() error {
	s.shutdown()
	<-s.done
	return nil
}

func (s *Socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		_ = s.ws.Close()
	})
}

// Done is closed once the read loop ended.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

func (s *Socket) readLoop() {
	defer func() {
		s.shutdown()
		s.mu.Lock()
		var open []*subscription
		for _, subs := range s.channels {
			for sub := range subs {
				open = append(open, sub)
			}
		}
		for channel, waiters := range s.waiters {
			for _, w := range waiters {
				w <- ErrSocketClosed
			}
			delete(s.waiters, channel)
		}
		s.mu.Unlock()
		for _, sub := range open {
			sub.release(false)
		}
		close(s.done)
	}()

	for {
		var frame event.Frame
		if err := s.ws.ReadJSON(&frame); err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Warn("Relay connection lost", "error", err)
			}
			return
		}
		switch frame.Type {
		case event.FrameSubscribed:
			s.resolve(frame.Channel, nil)
		case event.FrameError:
			err := &APIError{Status: statusOf(frame.Error), Message: frame.Error}
			if !s.resolve(frame.Channel, err) {
				s.log.Warn("Relay error", "channel", frame.Channel, "error", frame.Error)
			}
		case event.FrameEvent:
			s.dispatch(frame.Envelope())
		default:
			s.log.Debug("Unknown relay frame", "type", frame.Type)
		}
	}
}

// resolve answers the oldest pending Subscribe on channel.
func (s *Socket) resolve(channel string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.waiters[channel]
	if len(waiters) == 0 {
		return false
	}
	waiters[0] <- err
	if len(waiters) == 1 {
		delete(s.waiters, channel)
	} else {
		s.waiters[channel] = waiters[1:]
	}
	return true
}

func (s *Socket) dispatch(e event.Envelope) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.channels[e.Channel]))
	for sub := range s.channels[e.Channel] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(e)
	}
}

func (s *Socket) write(frame event.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return ErrSocketClosed
	default:
	}
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrDelivery, err)
	}
	return nil
}

// remove forgets sub and reports whether it was the last one on its channel.
func (s *Socket) remove(sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.channels[sub.channel]
	if !ok {
		return false
	}
	delete(subs, sub)
	if len(subs) > 0 {
		return false
	}
	delete(s.channels, sub.channel)
	return true
}

type subscription struct {
	socket  *Socket
	channel string
	events  chan event.Envelope

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Events() <-chan event.Envelope { return s.events }

// Close releases the subscription and, when it was the last one on the channel,
// unsubscribes the socket from the relay.
func (s *subscription) Close() error {
	s.release(true)
	return nil
}

func (s *subscription) release(notify bool) {
	s.closeOnce.Do(func() {
		last := s.socket.remove(s)
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		if last && notify {
			if err := s.socket.write(event.Frame{Type: event.FrameUnsubscribe, Channel: s.channel}); err != nil &&
				!errors.Is(err, ErrSocketClosed) {
				s.socket.log.Debug("Unsubscribe failed", "channel", s.channel, "error", err)
			}
		}
	})
}

// deliver blocks until the reader has room: the relay already applies the
// backpressure policy, the client keeps every event it was sent.
func (s *subscription) deliver(e event.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	case <-s.done:
	}
}

// statusOf recovers the category of a relay error from its message.
func statusOf(message string) int {
	for _, candidate := range []error{
		errors.ErrNotParticipant, errors.ErrForeignChannel, errors.ErrInvalidChannel,
		errors.ErrConversationNotFound, errors.ErrValidation,
	} {
		if message == candidate.Error() {
			return errors.HTTPStatus(candidate)
		}
	}
	return http.StatusInternalServerError
}
