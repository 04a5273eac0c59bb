// internal/monitoring/sampler.go
package monitoring

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is one reading of host utilization
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
}

// Sampler reads host utilization
type Sampler interface {
	Sample(ctx context.Context) (HostStats, error)
}

// HostSampler reads the local host through gopsutil
type HostSampler struct{}

// NewHostSampler creates a host sampler
func NewHostSampler() *HostSampler {
	return &HostSampler{}
}

// Sample reads CPU and memory usage. CPU is measured since the previous
// call, so it does not block.
func (h *HostSampler) Sample(ctx context.Context) (HostStats, error) {
	var stats HostStats

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, err
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.MemoryPercent = v.UsedPercent
	stats.MemoryUsedMB = float64(v.Used) / (1024 * 1024)
	stats.MemoryTotalMB = float64(v.Total) / (1024 * 1024)
	return stats, nil
}
