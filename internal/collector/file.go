package collector

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// FileCollector reads a single number from a file such as a sysfs attribute
// (e.g. /sys/class/thermal/thermal_zone0/temp) and multiplies it by scale.
type FileCollector struct {
	path   string
	metric string
	help   string
	kind   models.Kind
	scale  float64
	labels map[string]string
}

// NewFileCollector creates a file collector.
func NewFileCollector(t config.FileTarget) *FileCollector {
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	kind := t.Kind
	if kind == models.KindUnknown {
		kind = models.KindGauge
	}
	return &FileCollector{
		path:   t.Path,
		metric: t.Metric,
		help:   t.Help,
		kind:   kind,
		scale:  scale,
		labels: t.Labels,
	}
}

func newFile(cfg config.JobConfig, _ *zap.Logger) (Collector, error) {
	if cfg.File == nil {
		return nil, errors.New("missing file section")
	}
	return NewFileCollector(*cfg.File), nil
}

// Name returns the collector identifier.
func (c *FileCollector) Name() string { return "file" }

// IsAvailable returns true; availability of the path is checked per run.
func (c *FileCollector) IsAvailable() bool { return true }

// Collect reads and parses the file.
func (c *FileCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, targetError(ctx, c.path, err)
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, targetError(ctx, c.path, err)
	}

	raw := strings.TrimSpace(string(b))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, parseError("%s: %q is not a number", c.path, truncate(raw, 40))
	}

	return []models.Sample{{
		Identity: models.NewIdentity(c.metric, c.labels),
		Kind:     c.kind,
		Help:     c.help,
		Value:    v * c.scale,
	}}, nil
}
