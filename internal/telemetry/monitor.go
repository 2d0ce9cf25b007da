// Package telemetry reports host load for the status endpoint and sizes
// the scheduler's software-encode default.
package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"transcode-engine/pkg/models"
)

// Busy thresholds. Above these the host is flagged so operators know not
// to pile on more encode work.
const (
	busyCPUPercent = 80.0
	busyRAMPercent = 90.0
)

// Monitor gathers point-in-time host stats.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Stats gathers real-time CPU and RAM usage. The CPU reading is sampled
// over 500ms, so callers should expect this to block briefly.
func (m *Monitor) Stats(ctx context.Context) (models.HardwareStats, error) {
	stats := models.HardwareStats{}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMUsagePercent = v.UsedPercent

	cpuPct, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUUsagePercent = cpuPct[0]
	}

	stats.IsBusy = stats.CPUUsagePercent > busyCPUPercent || stats.RAMUsagePercent > busyRAMPercent
	return stats, nil
}

// CoreCount returns the number of logical CPU cores, preferring the
// host-level count over the Go runtime's view.
func CoreCount(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}
