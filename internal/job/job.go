// Package job implements a collection job: one target, one collector, and
// the bookkeeping of its runs. Jobs write only to the metric registry.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Guliveer/vitalis/exporter/internal/collector"
	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
	"github.com/Guliveer/vitalis/exporter/internal/registry"
)

// ErrAbandoned is reported for a run whose result was discarded because it
// did not return before its deadline.
var ErrAbandoned = errors.New("run abandoned after timeout")

// Outcome is the result class of a finished run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// Sink receives a job's samples. *registry.Registry satisfies it.
type Sink interface {
	Upsert(s models.Sample) error
	Remove(id models.Identity) bool
}

// Recorder receives per-job telemetry.
type Recorder interface {
	RunFinished(job string, outcome Outcome, reason string, took time.Duration)
	StatusChanged(job string, up bool, consecutiveFailures int, lastSuccess time.Time)
	CounterReset(job, metric string)
	KindConflict(job, metric string)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, Outcome, string, time.Duration) {}
func (nopRecorder) StatusChanged(string, bool, int, time.Time)         {}
func (nopRecorder) CounterReset(string, string)                        {}
func (nopRecorder) KindConflict(string, string)                        {}

// Descriptor is the static part of a job.
type Descriptor struct {
	Name     string
	Type     string
	Interval time.Duration
	Timeout  time.Duration
	Labels   map[string]string
	Prune    bool
}

// DescriptorFrom converts a validated job configuration.
func DescriptorFrom(cfg config.JobConfig) Descriptor {
	return Descriptor{
		Name:     cfg.Name,
		Type:     cfg.Type,
		Interval: cfg.Interval.Duration,
		Timeout:  cfg.Timeout.Duration,
		Labels:   cfg.Labels,
		Prune:    cfg.Prune,
	}
}

// Options carries a job's optional collaborators.
type Options struct {
	Logger   *zap.Logger
	Recorder Recorder
	Clock    clock.Clock
}

// Result describes one finished run.
type Result struct {
	Job      string
	Outcome  Outcome
	Samples  int
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Job runs one collector against the registry. Run is not safe for
// concurrent use; the scheduler guarantees a single run at a time through
// TryBegin and Finish.
type Job struct {
	desc      Descriptor
	collector collector.Collector
	sink      Sink
	recorder  Recorder
	logger    *zap.Logger
	clock     clock.Clock
	failLog   *rate.Limiter

	mu        sync.Mutex
	busy      bool
	hung      bool
	completed bool // the current attempt's outcome has been recorded
	abandoned bool // the current attempt's result must be discarded
	status    Status
	baselines map[string]float64
	emitted   map[string]models.Identity
}

// New creates a job.
func New(desc Descriptor, c collector.Collector, sink Sink, opts Options) *Job {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Job{
		desc:      desc,
		collector: c,
		sink:      sink,
		recorder:  opts.Recorder,
		logger:    opts.Logger.With(zap.String("job", desc.Name)),
		clock:     opts.Clock,
		failLog:   rate.NewLimiter(rate.Every(time.Minute), 3),
		baselines: make(map[string]float64),
		emitted:   make(map[string]models.Identity),
	}
}

// Name returns the job name.
func (j *Job) Name() string { return j.desc.Name }

// Descriptor returns the job's static settings.
func (j *Job) Descriptor() Descriptor { return j.desc }

// Run performs exactly one collection cycle: collect from the target and
// apply the samples to the sink. Errors are recorded on the job and returned
// in the Result; they never panic out of Run. Samples from a run whose ctx
// ended before it returned are discarded.
func (j *Job) Run(ctx context.Context) Result {
	start := j.clock.Now()
	samples, err := j.collect(ctx)
	collectedAt := j.clock.Now()
	res := Result{Job: j.desc.Name, Started: start, Duration: collectedAt.Sub(start)}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.abandoned {
		res.Outcome, res.Err = OutcomeTimeout, ErrAbandoned
		j.logger.Debug("Discarding result of abandoned run",
			zap.Duration("duration", res.Duration),
			zap.Int("samples", len(samples)))
		return res
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Outcome = OutcomeTimeout
		res.Err = multierr.Append(fmt.Errorf("run cancelled after %s: %w", res.Duration, ctxErr), err)
		j.recordLocked(res)
		return res
	}

	applied, applyErr := j.applyLocked(samples, collectedAt, err == nil)
	res.Samples = applied
	res.Err = multierr.Append(err, applyErr)
	if res.Err != nil {
		res.Outcome = OutcomeFailure
	} else {
		res.Outcome = OutcomeSuccess
	}
	j.recordLocked(res)
	return res
}

// collect calls the collector and turns a panic into an error.
func (j *Job) collect(ctx context.Context) (samples []models.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("Collector panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("collector %s panicked: %v", j.collector.Name(), r)
		}
	}()
	return j.collector.Collect(ctx)
}

// applyLocked writes samples to the sink. Job labels are added to every
// identity without overriding labels the collector set. Pruning only
// happens when the collector reported no error and every upsert succeeded.
func (j *Job) applyLocked(samples []models.Sample, at time.Time, complete bool) (int, error) {
	var errs error
	current := make(map[string]models.Identity, len(samples))
	applied := 0

	for _, s := range samples {
		s.Identity = s.Identity.WithDefaults(j.desc.Labels)
		if s.Timestamp.IsZero() {
			s.Timestamp = at
		}
		if s.Kind == models.KindCounter {
			j.observeCounterLocked(s)
		}
		if err := j.sink.Upsert(s); err != nil {
			if errors.Is(err, registry.ErrKindConflict) {
				j.recorder.KindConflict(j.desc.Name, s.Identity.Name())
				j.logger.Warn("Metric kind conflict, update rejected",
					zap.String("metric", s.Identity.Name()),
					zap.Error(err))
			}
			errs = multierr.Append(errs, err)
			continue
		}
		current[s.Identity.Key()] = s.Identity
		applied++
	}

	if complete && errs == nil {
		if j.desc.Prune {
			for key, id := range j.emitted {
				if _, ok := current[key]; ok {
					continue
				}
				j.sink.Remove(id)
				delete(j.baselines, key)
				j.logger.Debug("Pruned series no longer reported", zap.String("metric", key))
			}
		}
		j.emitted = current
	} else {
		for key, id := range current {
			j.emitted[key] = id
		}
	}
	return applied, errs
}

// observeCounterLocked applies the counter-reset policy. A value below the
// previous observation means the target restarted its count: the baseline
// is reset to the new value, which is emitted unchanged.
func (j *Job) observeCounterLocked(s models.Sample) {
	key := s.Identity.Key()
	prev, seen := j.baselines[key]
	if seen && s.Value < prev {
		j.recorder.CounterReset(j.desc.Name, s.Identity.Name())
		j.logger.Info("Counter reset detected",
			zap.String("metric", key),
			zap.Float64("previous", prev),
			zap.Float64("current", s.Value))
	}
	j.baselines[key] = s.Value
}

// recordLocked updates status and telemetry for a finished attempt.
func (j *Job) recordLocked(res Result) {
	j.completed = true
	st := &j.status
	st.Runs++
	st.LastRun = res.Started
	st.LastDuration = res.Duration
	st.LastOutcome = res.Outcome
	reason := ""

	if res.Outcome == OutcomeSuccess {
		if st.ConsecutiveFailures > 0 {
			j.logger.Info("Job recovered", zap.Int("after_failures", st.ConsecutiveFailures))
		}
		st.ConsecutiveFailures = 0
		st.LastError = ""
		st.LastSuccess = res.Started.Add(res.Duration)
	} else {
		st.ConsecutiveFailures++
		st.LastError = res.Err.Error()
		reason = collector.Reason(res.Err)
		if res.Outcome == OutcomeTimeout {
			reason = "timeout"
		}
		fields := []zap.Field{
			zap.String("outcome", string(res.Outcome)),
			zap.String("reason", reason),
			zap.Int("consecutive_failures", st.ConsecutiveFailures),
			zap.Int("samples", res.Samples),
			zap.Duration("duration", res.Duration),
			zap.Error(res.Err),
		}
		if j.failLog.Allow() {
			j.logger.Warn("Collection failed", fields...)
		} else {
			j.logger.Debug("Collection failed", fields...)
		}
	}

	j.recorder.RunFinished(j.desc.Name, res.Outcome, reason, res.Duration)
	j.recorder.StatusChanged(j.desc.Name, res.Outcome == OutcomeSuccess, st.ConsecutiveFailures, st.LastSuccess)
}

// TryBegin marks the job running. It returns false if a run is still in
// flight, including a hung one.
func (j *Job) TryBegin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.busy {
		return false
	}
	j.busy = true
	j.completed = false
	j.abandoned = false
	return true
}

// Finish marks the in-flight run as returned.
func (j *Job) Finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.busy = false
	j.hung = false
}

// Abandon records a timeout for the in-flight run if it has not finished
// yet and makes Run discard its eventual result. ok is false when the run
// had already recorded its own outcome.
func (j *Job) Abandon(cause error, took time.Duration) (res Result, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.busy || j.completed {
		return Result{}, false
	}
	j.abandoned = true
	res = Result{
		Job:      j.desc.Name,
		Outcome:  OutcomeTimeout,
		Err:      fmt.Errorf("no result within %s: %w", took, cause),
		Started:  j.clock.Now().Add(-took),
		Duration: took,
	}
	j.recordLocked(res)
	return res, true
}

// MarkHung flags a run that ignored cancellation past the grace period.
func (j *Job) MarkHung() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.busy {
		j.hung = true
		j.status.Hung++
	}
}

// SkipTick records a tick that found the previous run still in flight.
func (j *Job) SkipTick() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.Skipped++
}
