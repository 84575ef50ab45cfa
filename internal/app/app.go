// Package app wires the exporter together: configuration in, a running
// registry, scheduler and exposition server out.
package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/checkpoint"
	"github.com/Guliveer/vitalis/exporter/internal/collector"
	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/exposition"
	"github.com/Guliveer/vitalis/exporter/internal/job"
	"github.com/Guliveer/vitalis/exporter/internal/registry"
	"github.com/Guliveer/vitalis/exporter/internal/scheduler"
	"github.com/Guliveer/vitalis/exporter/internal/telemetry"
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	Clock      clock.Clock
	Collectors *collector.Registry
}

// App is a fully wired exporter.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *registry.Registry
	metrics   *telemetry.Metrics
	scheduler *scheduler.Scheduler
	server    *exposition.Server
	store     *checkpoint.Store
	saver     *checkpoint.Saver
}

// New builds every component from cfg. cfg is expected to be validated.
// Jobs whose collector is unavailable on this host are left out with a
// warning; any other build failure is returned.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Collectors == nil {
		opts.Collectors = collector.NewDefaultRegistry(logger)
	}

	a := &App{cfg: cfg, logger: logger, registry: registry.New()}

	if cfg.Checkpoint.Path != "" {
		if err := a.openCheckpoint(); err != nil {
			return nil, err
		}
	}

	selfReg := prometheus.NewRegistry()
	a.metrics = telemetry.New(selfReg, a.registry.Len)

	var jobs []*job.Job
	for _, jc := range cfg.Jobs {
		c, err := opts.Collectors.Build(jc)
		if errors.Is(err, collector.ErrUnavailable) {
			continue
		}
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("job %q: %w", jc.Name, err)
		}
		jobs = append(jobs, job.New(job.DescriptorFrom(jc), c, a.registry, job.Options{
			Logger:   logger.Named("job"),
			Recorder: a.metrics,
			Clock:    opts.Clock,
		}))
		a.metrics.InitJob(jc.Name)
	}
	if len(jobs) == 0 {
		logger.Warn("No collection jobs configured, only self-metrics will be served")
	}

	a.scheduler = scheduler.New(jobs, scheduler.ConfigFrom(cfg.Scheduler), scheduler.Options{
		Logger:   logger.Named("scheduler"),
		Recorder: a.metrics,
		Clock:    opts.Clock,
	})

	snapshots := exposition.NewSnapshotCollector(a.registry, cfg.Exposition.Timestamps, logger)
	if cfg.Exposition.SelfMetrics {
		owned, err := telemetry.OwnedNames(selfReg)
		if err != nil {
			logger.Warn("Could not list all self-metrics", zap.Error(err))
		}
		snapshots.Reserve(owned)
	}
	samples := prometheus.NewRegistry()
	samples.MustRegister(snapshots)
	gatherers := prometheus.Gatherers{samples}
	if cfg.Exposition.SelfMetrics {
		gatherers = append(gatherers, selfReg)
	}
	a.server = exposition.New(exposition.ConfigFrom(cfg), gatherers, a.scheduler, logger.Named("exposition"))
	return a, nil
}

func (a *App) openCheckpoint() error {
	store, err := checkpoint.Open(a.cfg.Checkpoint.Path, a.logger.Named("checkpoint"))
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	a.store = store

	snap, err := store.Load(context.Background())
	if err != nil {
		a.logger.Warn("Could not read checkpoint, starting empty", zap.Error(err))
	} else if snap.Len() > 0 {
		restored, err := a.registry.Restore(snap.Samples)
		a.logger.Info("Restored series from checkpoint",
			zap.Int("series", restored),
			zap.Time("taken_at", snap.TakenAt))
		if err != nil {
			a.logger.Warn("Some checkpointed series were skipped", zap.Error(err))
		}
	}
	return nil
}

// Registry returns the sample registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Addr returns the exposition server's address, bound once Run started.
func (a *App) Addr() string { return a.server.Addr() }

// Listen binds the exposition server so a busy port fails before Run.
func (a *App) Listen() error {
	return a.server.Listen()
}

// Run serves and collects until ctx is done or a termination signal
// arrives, then shuts everything down. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Listen(); err != nil {
		return err
	}
	if a.store != nil {
		a.saver = checkpoint.NewSaver(a.store, a.registry, a.cfg.Checkpoint.Interval.Duration,
			a.metrics, nil, a.logger.Named("checkpoint"))
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	g.Add(a.server.Serve, func(error) {
		_ = a.server.Shutdown(context.Background())
	})

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	drained := make(chan struct{})
	g.Add(func() error {
		defer close(drained)
		return a.scheduler.Run(schedCtx)
	}, func(error) {
		stopScheduler()
	})

	if a.saver != nil {
		saveCtx, stopSaver := context.WithCancel(context.Background())
		g.Add(func() error {
			return a.saver.Run(saveCtx)
		}, func(error) {
			// The last checkpoint is taken after the drain so it holds the
			// results of runs that were still in flight.
			go func() {
				<-drained
				stopSaver()
			}()
		})
	}

	a.logger.Info("Exporter running",
		zap.String("address", a.server.Addr()),
		zap.Int("jobs", len(a.scheduler.Jobs())))

	err := g.Run()
	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		a.logger.Info("Received signal, shutting down", zap.String("signal", sig.Signal.String()))
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	}
	return err
}

// Close releases resources held outside Run.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}
