package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is the health snapshot served on /api/health.
type HostStats struct {
	Status            string    `json:"status"`
	Hostname          string    `json:"hostname"`
	HostUptimeSeconds uint64    `json:"hostUptimeSeconds"`
	ProcessUptime     string    `json:"processUptime"`
	Load1             float64   `json:"load1"`
	Load5             float64   `json:"load5"`
	Load15            float64   `json:"load15"`
	MemoryUsedPercent float64   `json:"memoryUsedPercent"`
	Goroutines        int       `json:"goroutines"`
	SampledAt         time.Time `json:"sampledAt"`
}

// StatUpdater periodically samples host statistics and keeps the latest
// sample for the health endpoint.
type StatUpdater struct {
	interval time.Duration
	started  time.Time
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	latest HostStats
}

// NewStatUpdater creates a new StatUpdater sampling every interval.
func NewStatUpdater(interval time.Duration) *StatUpdater {
	su := &StatUpdater{
		interval: interval,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	su.update(context.Background())
	return su
}

// Run starts the periodic updates.
func (su *StatUpdater) Run() {
	log.Info().Dur("interval", su.interval).Msg("Starting background stat updater...")
	ticker := time.NewTicker(su.interval)
	defer ticker.Stop()

	for {
		select {
		case <-su.done:
			log.Info().Msg("Stopping background stat updater.")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), su.interval)
			su.update(ctx)
			cancel()
		}
	}
}

// Stop halts the periodic updates.
func (su *StatUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.done) })
}

// Latest returns the most recent sample.
func (su *StatUpdater) Latest() HostStats {
	su.mu.RLock()
	defer su.mu.RUnlock()
	stats := su.latest
	stats.ProcessUptime = time.Since(su.started).Round(time.Second).String()
	stats.Goroutines = runtime.NumGoroutine()
	return stats
}

func (su *StatUpdater) update(ctx context.Context) {
	stats := CollectHostStats(ctx)
	su.mu.Lock()
	su.latest = stats
	su.mu.Unlock()
}

// CollectHostStats samples the host. Probes that are unsupported on the
// current platform leave their fields zero.
func CollectHostStats(ctx context.Context) HostStats {
	stats := HostStats{Status: "ok", SampledAt: time.Now().UTC()}
	stats.Hostname, _ = os.Hostname()

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats.HostUptimeSeconds = uptime
	} else {
		log.Debug().Err(err).Msg("StatUpdater: host uptime unavailable")
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1, stats.Load5, stats.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		log.Debug().Err(err).Msg("StatUpdater: load average unavailable")
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryUsedPercent = vm.UsedPercent
	} else {
		log.Debug().Err(err).Msg("StatUpdater: memory stats unavailable")
	}
	return stats
}
