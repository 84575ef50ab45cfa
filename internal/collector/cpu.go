// CPU usage collector: gathers overall and per-core CPU utilization plus
// cumulative CPU time per mode. Uses gopsutil for cross-platform CPU metrics.
package collector

import (
	"context"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

const (
	cpuUsageHelp   = "CPU utilisation in percent."
	cpuSecondsHelp = "Seconds the CPUs spent in each mode."
)

// CPUCollector collects CPU usage metrics.
type CPUCollector struct {
	sampleWindow time.Duration
}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{sampleWindow: time.Second}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return "cpu" }

// Collect gathers CPU usage data (overall percentage and per-core).
// The overall measurement blocks for the sample window to compute an accurate percentage.
func (c *CPUCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	overall, err := cpu.PercentWithContext(ctx, c.sampleWindow, false)
	if err != nil {
		return nil, targetError(ctx, "cpu", err)
	}

	var samples []models.Sample
	if len(overall) > 0 {
		samples = append(samples, models.Gauge("host_cpu_usage_percent", cpuUsageHelp, overall[0],
			map[string]string{"cpu": "total"}))
	}

	// Per-core usage (instantaneous snapshot); non-fatal when unsupported.
	if cores, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		for i, pct := range cores {
			samples = append(samples, models.Gauge("host_cpu_usage_percent", cpuUsageHelp, pct,
				map[string]string{"cpu": strconv.Itoa(i)}))
		}
	}

	if times, err := cpu.TimesWithContext(ctx, false); err == nil && len(times) > 0 {
		t := times[0]
		for mode, v := range map[string]float64{
			"user":   t.User,
			"system": t.System,
			"idle":   t.Idle,
			"iowait": t.Iowait,
			"irq":    t.Irq + t.Softirq,
			"steal":  t.Steal,
		} {
			samples = append(samples, models.Counter("host_cpu_seconds_total", cpuSecondsHelp, v,
				map[string]string{"mode": mode}))
		}
	}

	return samples, nil
}

// IsAvailable returns true; CPU metrics are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
