// Boot time collector: reports when the host last booted, which also
// bounds the last shutdown. Uses gopsutil host for boot time information.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// BootTimeCollector collects the last boot time as a Unix timestamp.
type BootTimeCollector struct{}

// NewBootTimeCollector creates a new boot time collector.
func NewBootTimeCollector() *BootTimeCollector {
	return &BootTimeCollector{}
}

// Name returns the collector identifier.
func (c *BootTimeCollector) Name() string { return "boottime" }

// Collect returns the boot time in seconds since the epoch.
func (c *BootTimeCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	bootTime, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return nil, targetError(ctx, "boottime", err)
	}
	return []models.Sample{
		models.Gauge("host_boot_time_seconds", "Unix time the host last booted.", float64(bootTime), nil),
	}, nil
}

// IsAvailable returns true; boot time is available on all platforms.
func (c *BootTimeCollector) IsAvailable() bool { return true }
