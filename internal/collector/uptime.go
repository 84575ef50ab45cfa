// System uptime collector: gathers seconds since last boot.
// Uses gopsutil for cross-platform uptime metrics.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// UptimeCollector collects system uptime in seconds.
type UptimeCollector struct{}

// NewUptimeCollector creates a new uptime collector.
func NewUptimeCollector() *UptimeCollector {
	return &UptimeCollector{}
}

// Name returns the collector identifier.
func (c *UptimeCollector) Name() string { return "uptime" }

// Collect gathers the system uptime in seconds since boot.
func (c *UptimeCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, targetError(ctx, "uptime", err)
	}
	return []models.Sample{
		models.Gauge("host_uptime_seconds", "Seconds since the host booted.", float64(uptime), nil),
	}, nil
}

// IsAvailable returns true; uptime is available on all platforms.
func (c *UptimeCollector) IsAvailable() bool { return true }
