package workers

import (
	"context"
	"dm-lab/observability"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HeartbeatWorker samples CPU, RSS and status of the server process and stores
// them in the monitoring snapshot served on /debug/stats.
type HeartbeatWorker struct {
	log        *slog.Logger
	monitoring *observability.Monitoring
	interval   time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, monitoring *observability.Monitoring, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, monitoring: monitoring, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.monitoring.SetProcess(stats)
			snapshot := w.monitoring.Snapshot()
			w.log.Debug("Heartbeat",
				"rss_bytes", stats.RSSBytes,
				"cpu_percent", stats.CPUPercent,
				"active_sockets", snapshot.ActiveSockets,
				"messages_sent", snapshot.MessagesSent,
				"publish_failures", snapshot.PublishFailures)
		}
	}
}

// selfStats retrieves memory, CPU and OS status for the given process.
func selfStats(p *process.Process) (observability.ProcessStats, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return observability.ProcessStats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return observability.ProcessStats{}, err
	}
	status, err := p.Status()
	if err != nil {
		return observability.ProcessStats{}, err
	}
	return observability.ProcessStats{
		PID:        p.Pid,
		Status:     status,
		CPUPercent: cpuPercent,
		RSSBytes:   memInfo.RSS,
		SampledAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}
