package bus

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain/event"
	"dm-lab/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus relays events through Redis pub/sub so several server instances share
// the same channels. Redis guarantees publish order per channel for a subscriber.
type RedisBus struct {
	client     *redis.Client
	log        *slog.Logger
	prefix     string
	bufferSize int
}

var _ contract.Bus = (*RedisBus)(nil)

// NewRedisBus connects to url (redis://...) and verifies connectivity.
func NewRedisBus(ctx context.Context, log *slog.Logger, url, prefix string, bufferSize int) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisBus{client: client, log: log, prefix: prefix, bufferSize: bufferSize}, nil
}

func (b *RedisBus) topic(channel string) string {
	return b.prefix + channel
}

func (b *RedisBus) Publish(ctx context.Context, channel, name string, payload any) error {
	envelope, err := event.NewEnvelope(channel, name, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrDelivery, err)
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrDelivery, err)
	}
	if err := b.client.Publish(ctx, b.topic(channel), data).Err(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrDelivery, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription, so events published after
// Subscribe returns are guaranteed to be received.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (contract.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.topic(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %w", errors.ErrDelivery, err)
	}
	sub := &redisSubscription{
		channel: channel,
		pubsub:  ps,
		events:  make(chan event.Envelope, b.bufferSize),
		done:    make(chan struct{}),
	}
	go sub.pump(b.log, ps.Channel(redis.WithChannelSize(b.bufferSize)))
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	channel string
	pubsub  *redis.PubSub
	events  chan event.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func (s *redisSubscription) Channel() string { return s.channel }

func (s *redisSubscription) Events() <-chan event.Envelope { return s.events }

func (s *redisSubscription) pump(log *slog.Logger, messages <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var envelope event.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Warn("Dropping malformed bus payload", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.events <- envelope:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
