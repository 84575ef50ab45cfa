// RAM usage collector: gathers used and total memory bytes.
// Uses gopsutil for cross-platform memory metrics.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// MemoryCollector collects RAM usage metrics.
type MemoryCollector struct{}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

// Name returns the collector identifier.
func (c *MemoryCollector) Name() string { return "memory" }

// Collect gathers memory usage data (used, available and total bytes).
func (c *MemoryCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, targetError(ctx, "memory", err)
	}
	return []models.Sample{
		models.Gauge("host_memory_used_bytes", "Memory in use, in bytes.", float64(v.Used), nil),
		models.Gauge("host_memory_available_bytes", "Memory available for new allocations, in bytes.", float64(v.Available), nil),
		models.Gauge("host_memory_total_bytes", "Total physical memory, in bytes.", float64(v.Total), nil),
	}, nil
}

// IsAvailable returns true; memory metrics are available on all platforms.
func (c *MemoryCollector) IsAvailable() bool { return true }
