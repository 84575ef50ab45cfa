// Package scheduler drives collection jobs on independent periodic
// cadences. It enforces per-job timeouts, never runs the same job twice at
// once and drains in-flight runs on shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/job"
)

var (
	// ErrJobBusy is returned when a job is dispatched while its previous run is in flight.
	ErrJobBusy = errors.New("job is still running")
	// ErrUnknownJob is returned by Trigger for a name that was never scheduled.
	ErrUnknownJob = errors.New("unknown job")
	// ErrStopped is returned when dispatching after shutdown began.
	ErrStopped = errors.New("scheduler stopped")
)

// Recorder receives scheduler telemetry.
type Recorder interface {
	TickSkipped(job string)
	RunHung(job string)
}

type nopRecorder struct{}

func (nopRecorder) TickSkipped(string) {}
func (nopRecorder) RunHung(string)     {}

// Config holds the settings shared by all jobs.
type Config struct {
	// StartJitter bounds the random delay before a job's first run.
	StartJitter time.Duration
	// DrainTimeout bounds how long shutdown waits for in-flight runs.
	DrainTimeout time.Duration
	// GracePeriod is how long a timed-out run may take to honour
	// cancellation before it is isolated.
	GracePeriod time.Duration
	// MaxConcurrent limits simultaneous runs across all jobs; 0 means no limit.
	MaxConcurrent int
}

// ConfigFrom converts the scheduler section of the configuration.
func ConfigFrom(c config.SchedulerConfig) Config {
	return Config{
		StartJitter:   c.StartJitter.Duration,
		DrainTimeout:  c.DrainTimeout.Duration,
		GracePeriod:   c.GracePeriod.Duration,
		MaxConcurrent: c.MaxConcurrent,
	}
}

// Options carries the scheduler's optional collaborators.
type Options struct {
	Logger   *zap.Logger
	Recorder Recorder
	Clock    clock.Clock
}

// Scheduler manages periodic runs of a fixed set of jobs.
type Scheduler struct {
	cfg      Config
	jobs     []*job.Job
	byName   map[string]*job.Job
	logger   *zap.Logger
	recorder Recorder
	clock    clock.Clock
	sem      *semaphore.Weighted

	// runCtx parents every run. It outlives the shutdown signal so that
	// in-flight runs can finish during the drain.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	loops    sync.WaitGroup
}

// New creates a scheduler for jobs. Job names must be unique.
func New(jobs []*job.Job, cfg Config, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	s := &Scheduler{
		cfg:      cfg,
		jobs:     jobs,
		byName:   make(map[string]*job.Job, len(jobs)),
		logger:   opts.Logger,
		recorder: opts.Recorder,
		clock:    opts.Clock,
	}
	for _, j := range jobs {
		s.byName[j.Name()] = j
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	return s
}

// Run starts every job loop and blocks until ctx is done. It then stops
// issuing ticks and waits up to DrainTimeout for in-flight runs before
// cancelling them.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Int("jobs", len(s.jobs)),
		zap.Duration("start_jitter", s.cfg.StartJitter))

	for _, j := range s.jobs {
		s.loops.Add(1)
		go s.loop(ctx, j)
	}

	<-ctx.Done()
	s.loops.Wait()
	s.drain()
	return nil
}

// Trigger dispatches a job outside its cadence, subject to the same
// no-overlap rule as ticks. The channel yields the run's result.
func (s *Scheduler) Trigger(name string) (<-chan job.Result, error) {
	j, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.dispatch(j)
}

// Jobs returns the scheduled jobs.
func (s *Scheduler) Jobs() []*job.Job {
	out := make([]*job.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Statuses returns every job's status in configuration order.
func (s *Scheduler) Statuses() []job.Status {
	out := make([]job.Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Status())
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, j *job.Job) {
	defer s.loops.Done()
	interval := j.Descriptor().Interval

	if delay := s.startDelay(interval); delay > 0 {
		s.logger.Debug("Delaying first run", zap.String("job", j.Name()), zap.Duration("delay", delay))
		t := s.clock.Timer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	_, _ = s.dispatch(j)

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.dispatch(j)
		}
	}
}

// startDelay picks the first-run jitter in [0, min(StartJitter, interval)).
func (s *Scheduler) startDelay(interval time.Duration) time.Duration {
	bound := min(s.cfg.StartJitter, interval)
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound)))
}

// dispatch starts a run unless the job is still busy, in which case the
// tick is skipped rather than queued.
func (s *Scheduler) dispatch(j *job.Job) (<-chan job.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	if !j.TryBegin() {
		j.SkipTick()
		s.recorder.TickSkipped(j.Name())
		st := j.Status()
		s.logger.Warn("Skipping tick, previous run still in flight",
			zap.String("job", j.Name()),
			zap.Bool("hung", st.Hanging),
			zap.Uint64("skipped_total", st.Skipped))
		return nil, ErrJobBusy
	}

	results := make(chan job.Result, 1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		results <- s.execute(j)
	}()
	return results, nil
}

// execute races the run against its timeout. A run that misses its
// deadline is recorded as a timeout at once; if it then ignores
// cancellation for the grace period it is isolated and the job stays busy
// until the run finally returns.
func (s *Scheduler) execute(j *job.Job) job.Result {
	desc := j.Descriptor()
	runCtx, cancel := s.clock.WithTimeout(s.runCtx, desc.Timeout)
	defer cancel()
	start := s.clock.Now()

	if s.sem != nil {
		if err := s.sem.Acquire(runCtx, 1); err != nil {
			res, _ := j.Abandon(fmt.Errorf("waiting for a run slot: %w", err), s.clock.Since(start))
			j.Finish()
			return res
		}
		defer s.sem.Release(1)
	}

	done := make(chan job.Result, 1)
	go func() { done <- j.Run(runCtx) }()

	select {
	case res := <-done:
		j.Finish()
		s.logResult(res)
		return res
	case <-runCtx.Done():
	}

	took := s.clock.Since(start)
	res, abandoned := j.Abandon(runCtx.Err(), took)
	if abandoned {
		s.logger.Warn("Job exceeded its timeout, cancelling",
			zap.String("job", j.Name()),
			zap.Duration("timeout", desc.Timeout))
	}

	grace := s.clock.Timer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case late := <-done:
		j.Finish()
		if !abandoned {
			s.logResult(late)
			return late
		}
		return res
	case <-grace.C:
	}

	j.MarkHung()
	s.recorder.RunHung(j.Name())
	s.logger.Error("Job ignored cancellation, isolating it until it returns",
		zap.String("job", j.Name()),
		zap.Duration("grace_period", s.cfg.GracePeriod))
	go func() {
		<-done
		j.Finish()
		s.logger.Info("Isolated run returned, result discarded", zap.String("job", j.Name()))
	}()
	return res
}

func (s *Scheduler) logResult(res job.Result) {
	if res.Outcome == job.OutcomeSuccess {
		s.logger.Debug("Job run finished",
			zap.String("job", res.Job),
			zap.Int("samples", res.Samples),
			zap.Duration("duration", res.Duration))
	}
}

// drain waits for in-flight runs up to DrainTimeout, then cancels the rest.
func (s *Scheduler) drain() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	timer := s.clock.Timer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped, all runs drained")
	case <-timer.C:
		s.logger.Warn("Drain timeout reached, cancelling in-flight runs",
			zap.Duration("drain_timeout", s.cfg.DrainTimeout))
	}
	s.cancelRuns()
}
