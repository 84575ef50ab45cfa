package collector

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
)

// Factory builds a collector for one job.
type Factory func(cfg config.JobConfig, logger *zap.Logger) (Collector, error)

// Registry maps job types to collector factories.
type Registry struct {
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty collector registry with the given logger.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// NewDefaultRegistry returns a registry with every built-in target family.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("gpon", newGPON)
	r.Register("http", newHTTP)
	r.Register("file", newFile)
	r.Register("statfs", newStatfs)
	r.Register("tcp", newTCP)
	r.Register("cpu", func(config.JobConfig, *zap.Logger) (Collector, error) { return NewCPUCollector(), nil })
	r.Register("memory", func(config.JobConfig, *zap.Logger) (Collector, error) { return NewMemoryCollector(), nil })
	r.Register("disk", func(_ config.JobConfig, l *zap.Logger) (Collector, error) { return NewDiskCollector(l), nil })
	r.Register("network", func(config.JobConfig, *zap.Logger) (Collector, error) { return NewNetworkCollector(), nil })
	r.Register("uptime", func(config.JobConfig, *zap.Logger) (Collector, error) { return NewUptimeCollector(), nil })
	r.Register("temperature", func(_ config.JobConfig, l *zap.Logger) (Collector, error) { return NewTemperatureCollector(l), nil })
	r.Register("process", newProcess)
	r.Register("osinfo", func(config.JobConfig, *zap.Logger) (Collector, error) { return NewOSInfoCollector(), nil })
	r.Register("boottime", func(config.JobConfig, *zap.Logger) (Collector, error) { return NewBootTimeCollector(), nil })
	return r
}

// Register adds or replaces the factory for a job type.
func (r *Registry) Register(jobType string, f Factory) {
	r.factories[jobType] = f
}

// Build creates the collector for a job. Collectors that cannot run on this
// platform are logged and reported as ErrUnavailable.
func (r *Registry) Build(cfg config.JobConfig) (Collector, error) {
	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	c, err := f(cfg, r.logger.With(zap.String("job", cfg.Name)))
	if err != nil {
		return nil, fmt.Errorf("building %s collector for job %q: %w", cfg.Type, cfg.Name, err)
	}
	if !c.IsAvailable() {
		r.logger.Warn("Collector not available, skipping",
			zap.String("job", cfg.Name),
			zap.String("type", cfg.Type))
		return nil, fmt.Errorf("job %q: %w", cfg.Name, ErrUnavailable)
	}
	r.logger.Info("Registered collector",
		zap.String("job", cfg.Name),
		zap.String("type", cfg.Type))
	return c, nil
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
