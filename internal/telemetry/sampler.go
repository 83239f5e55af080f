package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// RunHostSampler periodically records host CPU/process memory/goroutine
// count into m's gauges, mirroring the teacher's SystemMetrics.Update
// polling loop. Runs until ctx is cancelled.
func RunHostSampler(ctx context.Context, m *Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var memStats runtime.MemStats
	var smoothedCPU float64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err == nil && len(percents) > 0 {
				const alpha = 0.3
				if smoothedCPU == 0 {
					smoothedCPU = percents[0]
				} else {
					smoothedCPU = alpha*percents[0] + (1-alpha)*smoothedCPU
				}
			}

			runtime.ReadMemStats(&memStats)
			m.SetHostStats(smoothedCPU, memStats.HeapAlloc, runtime.NumGoroutine())
		}
	}
}
