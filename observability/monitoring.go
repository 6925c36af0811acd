package observability

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessStats is the last sample taken by the heartbeat worker.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	Status     string  `json:"status"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	SampledAt  string  `json:"sampled_at"`
}

// MonitoringStats aggregates delivery counters and process metrics for /debug/stats.
type MonitoringStats struct {
	MessagesSent     uint64       `json:"messages_sent"`
	PublishFailures  uint64       `json:"publish_failures"`
	EventsDelivered  uint64       `json:"events_delivered"`
	EventsDropped    uint64       `json:"events_dropped"`
	ActiveSockets    int64        `json:"active_sockets"`
	Subscriptions    int64        `json:"subscriptions"`
	StorageConflicts uint64       `json:"storage_conflicts"`
	AllocMemMb       uint64       `json:"alloc_mem_mb"`
	NumGC            uint32       `json:"num_gc"`
	Goroutines       int          `json:"goroutines"`
	Process          ProcessStats `json:"process"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
}

// Monitoring holds counters updated from the hot path with atomics.
// A nil *Monitoring is valid and records nothing.
type Monitoring struct {
	startedAt time.Time

	messagesSent     atomic.Uint64
	publishFailures  atomic.Uint64
	eventsDelivered  atomic.Uint64
	eventsDropped    atomic.Uint64
	storageConflicts atomic.Uint64
	activeSockets    atomic.Int64
	subscriptions    atomic.Int64

	mu      sync.RWMutex
	process ProcessStats
}

func NewMonitoring() *Monitoring {
	return &Monitoring{startedAt: time.Now()}
}

func (m *Monitoring) IncrMessagesSent() {
	if m != nil {
		m.messagesSent.Add(1)
	}
}

func (m *Monitoring) IncrPublishFailures() {
	if m != nil {
		m.publishFailures.Add(1)
	}
}

func (m *Monitoring) IncrEventsDelivered() {
	if m != nil {
		m.eventsDelivered.Add(1)
	}
}

func (m *Monitoring) IncrEventsDropped() {
	if m != nil {
		m.eventsDropped.Add(1)
	}
}

func (m *Monitoring) IncrStorageConflicts() {
	if m != nil {
		m.storageConflicts.Add(1)
	}
}

func (m *Monitoring) AddActiveSockets(delta int64) {
	if m != nil {
		m.activeSockets.Add(delta)
	}
}

func (m *Monitoring) AddSubscriptions(delta int64) {
	if m != nil {
		m.subscriptions.Add(delta)
	}
}

func (m *Monitoring) SetProcess(p ProcessStats) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.process = p
}

// Snapshot reads every counter plus Go runtime memory statistics.
func (m *Monitoring) Snapshot() MonitoringStats {
	if m == nil {
		return MonitoringStats{}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	process := m.process
	m.mu.RUnlock()

	return MonitoringStats{
		MessagesSent:     m.messagesSent.Load(),
		PublishFailures:  m.publishFailures.Load(),
		EventsDelivered:  m.eventsDelivered.Load(),
		EventsDropped:    m.eventsDropped.Load(),
		ActiveSockets:    m.activeSockets.Load(),
		Subscriptions:    m.subscriptions.Load(),
		StorageConflicts: m.storageConflicts.Load(),
		AllocMemMb:       mem.Alloc / 1024 / 1024,
		NumGC:            mem.NumGC,
		Goroutines:       runtime.NumGoroutine(),
		Process:          process,
		UptimeSeconds:    int64(time.Since(m.startedAt).Seconds()),
	}
}
