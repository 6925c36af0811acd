//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"dm-lab/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging by the supervisor.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Publisher is the fire-and-forget side of the delivery bus.
// A nil error only means the bus accepted the event, not that anyone received it.
type Publisher interface {
	Publish(ctx context.Context, channel, name string, payload any) error
}

// Subscription is a scoped handle on one channel. Events published after the
// subscription was created are delivered in publish order. Close is idempotent and
// closes the Events channel.
type Subscription interface {
	Channel() string
	Events() <-chan event.Envelope
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Bus is the pub/sub relay the messaging core depends on.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// EventSink receives envelopes pushed by the fanout.
type EventSink interface {
	Consume(ctx context.Context, e event.Envelope) error
}

type IRegistry interface {
	GetSinksForChannel(channel string) []EventSink
	Subscribe(subscriberID, channel string, sink EventSink)
	Unsubscribe(subscriberID, channel string)
}
