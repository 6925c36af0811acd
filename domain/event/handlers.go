package event

import (
	"context"
	"log/slog"
)

// Handler reacts to one kind of event.
type Handler func(Envelope)

// Router binds handlers to event names.
// Events without a handler are ignored.
type Router struct {
	log      *slog.Logger
	handlers map[string][]Handler
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{log: log, handlers: make(map[string][]Handler)}
}

func (r *Router) On(name string, h Handler) *Router {
	r.handlers[name] = append(r.handlers[name], h)
	return r
}

func (r *Router) Handle(e Envelope) {
	handlers, ok := r.handlers[e.Event]
	if !ok {
		r.log.Debug("No handler for event", "channel", e.Channel, "event", e.Event)
		return
	}
	for _, h := range handlers {
		h(e)
	}
}

// Drain routes events until the channel closes or ctx is done.
func (r *Router) Drain(ctx context.Context, events <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Handle(e)
		}
	}
}
