package collector

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// OSInfoCollector exposes the operating system as an info-style gauge.
// The labels are looked up once; a failed lookup is retried next run.
type OSInfoCollector struct {
	mu     sync.Mutex
	labels map[string]string
	lookup func(ctx context.Context) (*host.InfoStat, error)
}

// NewOSInfoCollector creates a new OS info collector.
func NewOSInfoCollector() *OSInfoCollector {
	return &OSInfoCollector{lookup: host.InfoWithContext}
}

// Name returns the collector identifier.
func (c *OSInfoCollector) Name() string { return "osinfo" }

// Collect returns host_os_info{name,version,family,kernel} = 1.
func (c *OSInfoCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.labels == nil {
		info, err := c.lookup(ctx)
		if err != nil {
			return nil, targetError(ctx, "host info", err)
		}
		c.labels = osLabels(info)
	}
	return []models.Sample{
		models.Gauge("host_os_info", "Operating system name and version; always 1.", 1, c.labels),
	}, nil
}

// IsAvailable returns true; OS info is available on all platforms.
func (c *OSInfoCollector) IsAvailable() bool { return true }

func osLabels(info *host.InfoStat) map[string]string {
	name := info.Platform
	if name == "" {
		name = info.OS
	}
	version := info.PlatformVersion
	if version == "" {
		version = "unknown"
	}
	return map[string]string{
		"name":    name,
		"version": version,
		"family":  info.PlatformFamily,
		"kernel":  info.KernelVersion,
	}
}
