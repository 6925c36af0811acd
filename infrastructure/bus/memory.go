// Package bus holds the adapters of the delivery bus contract: an in-process bus
// for single-node deployments and tests, and a Redis pub/sub bus for a hosted relay.
package bus

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain/event"
	"dm-lab/errors"
	"dm-lab/observability"
	"dm-lab/runtime"
	"dm-lab/runtime/workers"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBus is an in-process pub/sub bus.
// Publish enqueues the envelope; the fanout worker returned by Worker delivers it to
// the current subscribers of the channel. The worker must be running (usually under
// the supervisor) for events to flow.
type MemoryBus struct {
	log        *slog.Logger
	registry   *runtime.Registry
	queue      chan event.Envelope
	fanout     *workers.EventFanout
	bufferSize int
	monitoring *observability.Monitoring

	closeOnce sync.Once
	done      chan struct{}
}

var _ contract.Bus = (*MemoryBus)(nil)

func NewMemoryBus(log *slog.Logger, bufferSize int, sinkTimeout time.Duration,
	monitoring *observability.Monitoring) *MemoryBus {
	registry := runtime.NewRegistry()
	queue := make(chan event.Envelope, bufferSize)
	return &MemoryBus{
		log:        log,
		registry:   registry,
		queue:      queue,
		fanout:     workers.NewEventFanout(log, registry, queue, sinkTimeout, monitoring),
		bufferSize: bufferSize,
		monitoring: monitoring,
		done:       make(chan struct{}),
	}
}

// Worker is the fanout loop to register in the supervisor.
func (b *MemoryBus) Worker() contract.Worker {
	return b.fanout
}

func (b *MemoryBus) Publish(ctx context.Context, channel, name string, payload any) error {
	envelope, err := event.NewEnvelope(channel, name, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrDelivery, err)
	}
	select {
	case <-b.done:
		return errors.ErrBusClosed
	default:
	}
	select {
	case b.queue <- envelope:
		return nil
	case <-b.done:
		return errors.ErrBusClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrDelivery, ctx.Err())
	}
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (contract.Subscription, error) {
	select {
	case <-b.done:
		return nil, errors.ErrBusClosed
	default:
	}
	sub := &memorySubscription{
		id:      uuid.NewString(),
		channel: channel,
		events:  make(chan event.Envelope, b.bufferSize),
		done:    make(chan struct{}),
	}
	sub.unsubscribe = func() {
		b.registry.Unsubscribe(sub.id, channel)
		b.monitoring.AddSubscriptions(-1)
	}
	b.registry.Subscribe(sub.id, channel, sub)
	b.monitoring.AddSubscriptions(1)
	return sub, nil
}

// Close stops accepting publications. Existing subscriptions stay open until their
// owners close them.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// memorySubscription is both the contract.Subscription handed to the subscriber and
// the contract.EventSink registered for the fanout.
type memorySubscription struct {
	id          string
	channel     string
	events      chan event.Envelope
	unsubscribe func()

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func (s *memorySubscription) Channel() string { return s.channel }

func (s *memorySubscription) Events() <-chan event.Envelope { return s.events }

// Consume blocks until the subscriber buffer has room, the subscription is closed,
// or ctx (bounded by the fanout sink timeout) is done.
func (s *memorySubscription) Consume(ctx context.Context, e event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrBusClosed
	}
	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return errors.ErrBusClosed
	case <-ctx.Done():
		return errors.ErrSubscriptionSlow
	}
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}
