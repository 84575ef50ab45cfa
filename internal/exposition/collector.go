// Package exposition serves the registry snapshot in the Prometheus
// exposition format, next to health and job status endpoints.
package exposition

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/models"
	"github.com/Guliveer/vitalis/exporter/internal/registry"
)

// Snapshotter is the read side of the sample registry.
type Snapshotter interface {
	Snapshot() models.Snapshot
}

// SnapshotCollector adapts a registry snapshot to a prometheus.Collector.
// It is unchecked: series come and go between scrapes, so it describes
// nothing up front.
type SnapshotCollector struct {
	source     Snapshotter
	timestamps bool
	logger     *zap.Logger
	reserved   func(name string) bool
	warned     sync.Map
}

// NewSnapshotCollector creates a collector over source. With timestamps
// set, every series carries the time its value was collected.
func NewSnapshotCollector(source Snapshotter, timestamps bool, logger *zap.Logger) *SnapshotCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCollector{source: source, timestamps: timestamps, logger: logger}
}

// Reserve hides every family whose name reserved reports true for, so
// collected series cannot shadow metrics served by another gatherer on the
// same endpoint. Call it before the collector is registered.
func (c *SnapshotCollector) Reserve(reserved func(name string) bool) {
	c.reserved = reserved
}

// Describe implements prometheus.Collector.
func (c *SnapshotCollector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector. It takes one snapshot per
// scrape and never touches the jobs that fill the registry.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	samples := snap.Samples

	for start := 0; start < len(samples); {
		name := samples[start].Identity.Name()
		end := start + 1
		for end < len(samples) && samples[end].Identity.Name() == name {
			end++
		}
		if c.reserved != nil && c.reserved(name) {
			if _, seen := c.warned.LoadOrStore(name, struct{}{}); !seen {
				c.logger.Warn("Not exposing collected metric, the name belongs to the exporter's own metrics",
					zap.String("metric", name),
					zap.Int("series", end-start))
			}
			start = end
			continue
		}
		help := familyHelp(samples[start:end])
		for _, s := range samples[start:end] {
			m, err := c.metric(s, help)
			if err != nil {
				c.logger.Warn("Skipping series that cannot be exposed",
					zap.String("metric", s.Identity.Key()),
					zap.Error(err))
				continue
			}
			ch <- m
		}
		start = end
	}
}

func (c *SnapshotCollector) metric(s models.Sample, help string) (prometheus.Metric, error) {
	labels := s.Identity.Labels()
	names := make([]string, len(labels))
	values := make([]string, len(labels))
	for i, l := range labels {
		names[i], values[i] = l.Name, l.Value
	}
	desc := prometheus.NewDesc(s.Identity.Name(), help, names, nil)

	var (
		m   prometheus.Metric
		err error
	)
	switch s.Kind {
	case models.KindCounter:
		m, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, s.Value, values...)
	case models.KindHistogram:
		m, err = prometheus.NewConstHistogram(desc, s.Histogram.Count, s.Histogram.Sum, s.Histogram.Buckets, values...)
	case models.KindSummary:
		m, err = prometheus.NewConstSummary(desc, s.Summary.Count, s.Summary.Sum, s.Summary.Quantiles, values...)
	default:
		m, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.Value, values...)
	}
	if err != nil {
		return nil, err
	}
	if c.timestamps && !s.Timestamp.IsZero() {
		m = prometheus.NewMetricWithTimestamp(s.Timestamp, m)
	}
	return m, nil
}

// familyHelp picks one help string for all series of a name. The gatherer
// rejects a family whose series disagree on help.
func familyHelp(family []models.Sample) string {
	fallback := registry.DefaultHelp(family[0].Identity.Name())
	for _, s := range family {
		if s.Help != "" && s.Help != fallback {
			return s.Help
		}
	}
	return fallback
}
