package runtime

import (
	"dm-lab/contract"
	"sync"
)

// Registry maps bus channels to the sinks currently subscribed to them.
type Registry struct {
	mu       sync.RWMutex
	Channels map[string]map[string]contract.EventSink // channel -> subscriber -> sink
}

func NewRegistry() *Registry {
	return &Registry{
		Channels: make(map[string]map[string]contract.EventSink),
	}
}

// GetSinksForChannel returns the sinks subscribed to channel, or nil if none.
// The returned slice is a copy and can be used without holding the lock.
func (r *Registry) GetSinksForChannel(channel string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.Channels[channel]
	if !ok {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(members))
	for _, sink := range members {
		sinks = append(sinks, sink)
	}
	return sinks
}

// Subscribe registers sink for channel under subscriberID.
// The channel entry is created on the fly.
func (r *Registry) Subscribe(subscriberID, channel string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.Channels[channel]; !ok {
		r.Channels[channel] = make(map[string]contract.EventSink)
	}
	r.Channels[channel][subscriberID] = sink
}

// Unsubscribe removes subscriberID from channel and drops empty channels
// so the map does not grow with every conversation ever opened.
func (r *Registry) Unsubscribe(subscriberID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.Channels[channel]; ok {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(r.Channels, channel)
		}
	}
}

func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Channels[channel])
}
