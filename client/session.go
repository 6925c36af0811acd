package client

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain"
	"dm-lab/domain/event"
	"dm-lab/errors"
	"dm-lab/projection"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const expireInterval = time.Second

// Session is an authenticated user connected to the API and to the relay.
type Session struct {
	log         *slog.Logger
	api         *API
	socket      *Socket
	me          domain.User
	sendTimeout time.Duration
	clock       func() time.Time
}

// Connect opens the relay for the user logged in on api.
// sendTimeout bounds every send; zero means projection.DefaultSendTimeout.
func Connect(ctx context.Context, log *slog.Logger, api *API, sendTimeout time.Duration) (*Session, error) {
	current := api.Session()
	if current.Token == "" {
		return nil, errors.ErrMissingToken
	}
	if sendTimeout <= 0 {
		sendTimeout = projection.DefaultSendTimeout
	}
	socket, err := Dial(ctx, log, api.SocketURL(), defaultBufferSize)
	if err != nil {
		return nil, err
	}
	return &Session{
		log:         log,
		api:         api,
		socket:      socket,
		me:          domain.User{ID: current.UserID},
		sendTimeout: sendTimeout,
		clock:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Session) UserID() string { return s.me.ID }

func (s *Session) API() *API { return s.api }

// Done is closed when the relay connection is lost or closed.
func (s *Session) Done() <-chan struct{} {
	return s.socket.Done()
}

func (s *Session) Close() error {
	return s.socket.Close()
}

// OpenConversation subscribes to the conversation channel, then loads its history.
// Subscribing first means no message can fall between the fetch and the first
// event: anything in both is merged by id.
func (s *Session) OpenConversation(ctx context.Context, conversationID domain.ConversationID) (*ConversationView, error) {
	sub, err := s.socket.Subscribe(ctx, domain.ConversationChannel(conversationID))
	if err != nil {
		return nil, err
	}
	history, err := s.api.ListMessages(ctx, conversationID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	view := &ConversationView{
		log:      s.log.With("conversation_id", conversationID),
		session:  s,
		id:       conversationID,
		timeline: projection.NewTimeline(conversationID, s.sendTimeout),
		sub:      sub,
		changes:  make(chan struct{}, 1),
	}
	view.timeline.Load(history)

	runCtx, cancel := context.WithCancel(context.Background())
	view.cancel = cancel
	view.wg.Add(2)
	go func() {
		defer view.wg.Done()
		event.NewRouter(view.log).
			On(domain.EventNewMessage, view.onNewMessage).
			Drain(runCtx, sub.Events())
	}()
	go func() {
		defer view.wg.Done()
		view.expireLoop(runCtx)
	}()
	return view, nil
}

// InboxWatch is a scoped subscription to the user channel.
type InboxWatch struct {
	sub    contract.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Close unsubscribes and waits for the callback goroutine.
func (w *InboxWatch) Close() error {
	w.cancel()
	err := w.sub.Close()
	<-w.done
	return err
}

// WatchInbox calls fn for every new-conversation-update of the user until the
// returned watch is closed.
func (s *Session) WatchInbox(ctx context.Context, fn func(domain.ConversationUpdate)) (*InboxWatch, error) {
	sub, err := s.socket.Subscribe(ctx, domain.UserChannel(s.me.ID))
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	watch := &InboxWatch{sub: sub, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(watch.done)
		event.NewRouter(s.log).
			On(domain.EventConversationUpdate, func(e event.Envelope) {
				update, err := e.ConversationUpdate()
				if err != nil {
					s.log.Warn("Malformed conversation update", "error", err)
					return
				}
				fn(update)
			}).
			Drain(runCtx, sub.Events())
	}()
	return watch, nil
}

// ConversationView is an open conversation: the reconciled timeline kept up to
// date by bus events, and the optimistic send path.
type ConversationView struct {
	log      *slog.Logger
	session  *Session
	id       domain.ConversationID
	timeline *projection.Timeline
	sub      contract.Subscription
	changes  chan struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (v *ConversationView) ID() domain.ConversationID { return v.id }

func (v *ConversationView) Entries() []projection.Entry {
	return v.timeline.Entries()
}

// Changes signals that Entries changed. Signals coalesce; re-read Entries on each.
func (v *ConversationView) Changes() <-chan struct{} {
	return v.changes
}

// Send shows the message immediately as sending, then posts it. The entry ends
// sent on success or error on failure or timeout, whichever of the HTTP answer
// and the bus event arrives first.
func (v *ConversationView) Send(ctx context.Context, content string) (projection.Entry, error) {
	entry := v.timeline.Submit(v.session.me, content, v.session.clock())
	v.notify()
	return v.deliver(ctx, entry)
}

// Retry sends an errored entry again with the same client id.
func (v *ConversationView) Retry(ctx context.Context, tempID string) (projection.Entry, error) {
	entry, ok := v.timeline.Retry(tempID, v.session.clock())
	if !ok {
		return projection.Entry{}, fmt.Errorf("%w: no failed message %s", errors.ErrValidation, tempID)
	}
	v.notify()
	return v.deliver(ctx, entry)
}

func (v *ConversationView) deliver(ctx context.Context, entry projection.Entry) (projection.Entry, error) {
	sendCtx, cancel := context.WithTimeout(ctx, v.session.sendTimeout)
	defer cancel()

	message, err := v.session.api.SendMessage(sendCtx, v.id, entry.Message.Content, entry.TempID)
	if err != nil {
		v.timeline.Fail(entry.TempID)
		v.notify()
		v.log.Warn("Send failed", "client_msg_id", entry.TempID, "error", err)
		entry.Status = projection.StatusError
		return entry, err
	}
	v.timeline.Confirm(entry.TempID, message)
	v.notify()
	return projection.Entry{Message: message, Status: projection.StatusSent, TempID: entry.TempID}, nil
}

// Close unsubscribes from the conversation and stops background work.
func (v *ConversationView) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.cancel()
		err = v.sub.Close()
		v.wg.Wait()
	})
	return err
}

func (v *ConversationView) onNewMessage(e event.Envelope) {
	message, err := e.NewMessage()
	if err != nil {
		v.log.Warn("Malformed new-message event", "error", err)
		return
	}
	if v.timeline.Consume(message) {
		v.notify()
	}
}

func (v *ConversationView) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if expired := v.timeline.Expire(now.UTC()); len(expired) > 0 {
				v.log.Debug("Sends timed out", "client_msg_ids", expired)
				v.notify()
			}
		}
	}
}

func (v *ConversationView) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}
