package collector

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

type fsUsage struct {
	size  uint64
	free  uint64
	avail uint64
}

// StatfsCollector reports capacity for explicit mount points with statfs(2),
// without enumerating partitions.
type StatfsCollector struct {
	paths []string
}

// NewStatfsCollector creates a statfs collector for the given paths.
func NewStatfsCollector(paths []string) *StatfsCollector {
	return &StatfsCollector{paths: paths}
}

func newStatfs(cfg config.JobConfig, _ *zap.Logger) (Collector, error) {
	if cfg.Statfs == nil {
		return nil, errors.New("missing statfs section")
	}
	return NewStatfsCollector(cfg.Statfs.Paths), nil
}

// Name returns the collector identifier.
func (c *StatfsCollector) Name() string { return "statfs" }

// IsAvailable reports whether statfs is supported on this platform.
func (c *StatfsCollector) IsAvailable() bool { return statfsSupported }

// Collect stats each path. Paths that fail are reported but do not hide the others.
func (c *StatfsCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	var samples []models.Sample
	var errs error
	for _, p := range c.paths {
		if ctx.Err() != nil {
			return samples, multierr.Append(errs, targetError(ctx, p, ctx.Err()))
		}
		u, err := statfs(p)
		if err != nil {
			errs = multierr.Append(errs, targetError(ctx, p, err))
			continue
		}
		labels := map[string]string{"path": p}
		samples = append(samples,
			models.Gauge("filesystem_size_bytes", "Filesystem size in bytes.", float64(u.size), labels),
			models.Gauge("filesystem_free_bytes", "Filesystem free space in bytes.", float64(u.free), labels),
			models.Gauge("filesystem_avail_bytes", "Filesystem space available to unprivileged users in bytes.", float64(u.avail), labels),
		)
	}
	return samples, errs
}
