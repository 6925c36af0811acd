package workers

import (
	"context"
	"dm-lab/contract"
	"dm-lab/domain/event"
	"dm-lab/observability"
	"log/slog"
	"time"
)

// EventFanout drains the in-process bus queue and pushes every envelope to the
// sinks subscribed to its channel.
//
// An envelope is handed to every sink before the next one is taken, which is what
// keeps publish order per channel. A sink that does not accept the envelope within
// sinkTimeout loses it: delivery is best-effort, persistence is the source of truth.
type EventFanout struct {
	log         *slog.Logger
	registry    contract.IRegistry
	queue       <-chan event.Envelope
	sinkTimeout time.Duration
	monitoring  *observability.Monitoring
}

func NewEventFanout(log *slog.Logger, registry contract.IRegistry,
	queue <-chan event.Envelope, sinkTimeout time.Duration,
	monitoring *observability.Monitoring) *EventFanout {
	return &EventFanout{
		log:         log,
		registry:    registry,
		queue:       queue,
		sinkTimeout: sinkTimeout,
		monitoring:  monitoring,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt, ok := <-w.queue:
			if !ok {
				w.log.Debug("Bus queue closed, stopping event fanout")
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout delivers evt to the current subscribers of its channel and returns how
// many accepted it.
func (w *EventFanout) Fanout(ctx context.Context, evt event.Envelope) int {
	delivered := 0
	for _, sink := range w.registry.GetSinksForChannel(evt.Channel) {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		err := sink.Consume(sinkCtx, evt)
		cancel()
		if err != nil {
			w.monitoring.IncrEventsDropped()
			w.log.Warn("Event dropped for subscriber",
				"channel", evt.Channel, "event", evt.Event, "error", err)
			continue
		}
		w.monitoring.IncrEventsDelivered()
		delivered++
	}
	return delivered
}
