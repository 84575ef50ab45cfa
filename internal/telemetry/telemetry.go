// Package telemetry holds the exporter's own metrics: per-job health,
// run durations, skipped ticks and registry size. They live in a separate
// Prometheus registry from the collected samples.
package telemetry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Guliveer/vitalis/exporter/internal/job"
)

const namespace = "vitalis_exporter"

// Metrics implements the job and scheduler recorders.
type Metrics struct {
	up          *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	reasons     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	skipped     *prometheus.CounterVec
	hung        *prometheus.CounterVec
	failures    *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	resets      *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
}

// New creates the self-metrics and registers them, together with the Go
// runtime and process collectors, on reg. series reports the number of
// series held in the sample registry.
func New(reg prometheus.Registerer, series func() int) *Metrics {
	m := &Metrics{
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_up",
			Help:      "Whether the last run of the job succeeded.",
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Finished job runs by outcome.",
		}, []string{"job", "outcome"}),
		reasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Failed or timed out job runs by reason.",
		}, []string{"job", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job runs in seconds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_skipped_ticks_total",
			Help:      "Ticks skipped because the previous run was still in flight.",
		}, []string{"job"}),
		hung: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_hung_runs_total",
			Help:      "Runs that ignored cancellation past the grace period and were isolated.",
		}, []string{"job"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_consecutive_failures",
			Help:      "Failed runs since the last success.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resets_total",
			Help:      "Counter samples that dropped below their previous value.",
		}, []string{"job"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kind_conflicts_total",
			Help:      "Updates rejected because the metric was registered with another kind.",
		}, []string{"job"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Registry checkpoint writes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.up, m.runs, m.reasons, m.duration, m.skipped, m.hung, m.failures,
		m.lastSuccess, m.resets, m.conflicts, m.checkpoints,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_series",
			Help:      "Series currently held in the sample registry.",
		}, func() float64 { return float64(series()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// OwnedNames reports the metric names the exporter serves itself: every
// family g gathers now, plus anything in the exporter namespace. Families
// gathered before an error are still included.
func OwnedNames(g prometheus.Gatherer) (func(name string) bool, error) {
	families, err := g.Gather()
	names := make(map[string]struct{}, len(families))
	for _, mf := range families {
		names[mf.GetName()] = struct{}{}
	}
	return func(name string) bool {
		if strings.HasPrefix(name, namespace+"_") {
			return true
		}
		_, ok := names[name]
		return ok
	}, err
}

// InitJob creates the per-job series so they are exported before the first run.
func (m *Metrics) InitJob(name string) {
	m.up.WithLabelValues(name)
	m.failures.WithLabelValues(name)
	m.skipped.WithLabelValues(name)
	for _, o := range []job.Outcome{job.OutcomeSuccess, job.OutcomeFailure, job.OutcomeTimeout} {
		m.runs.WithLabelValues(name, string(o))
	}
}

// RunFinished implements job.Recorder.
func (m *Metrics) RunFinished(name string, outcome job.Outcome, reason string, took time.Duration) {
	m.runs.WithLabelValues(name, string(outcome)).Inc()
	if outcome != job.OutcomeSuccess {
		if reason == "" {
			reason = "error"
		}
		m.reasons.WithLabelValues(name, reason).Inc()
	}
	m.duration.WithLabelValues(name).Observe(took.Seconds())
}

// StatusChanged implements job.Recorder.
func (m *Metrics) StatusChanged(name string, up bool, consecutiveFailures int, lastSuccess time.Time) {
	v := 0.0
	if up {
		v = 1
	}
	m.up.WithLabelValues(name).Set(v)
	m.failures.WithLabelValues(name).Set(float64(consecutiveFailures))
	if !lastSuccess.IsZero() {
		m.lastSuccess.WithLabelValues(name).Set(float64(lastSuccess.UnixNano()) / 1e9)
	}
}

// CounterReset implements job.Recorder.
func (m *Metrics) CounterReset(name, _ string) {
	m.resets.WithLabelValues(name).Inc()
}

// KindConflict implements job.Recorder.
func (m *Metrics) KindConflict(name, _ string) {
	m.conflicts.WithLabelValues(name).Inc()
}

// TickSkipped records a tick dropped because the job was still running.
func (m *Metrics) TickSkipped(name string) {
	m.skipped.WithLabelValues(name).Inc()
}

// RunHung records a run isolated after ignoring cancellation.
func (m *Metrics) RunHung(name string) {
	m.hung.WithLabelValues(name).Inc()
}

// CheckpointSaved records the result of a checkpoint write.
func (m *Metrics) CheckpointSaved(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.checkpoints.WithLabelValues(result).Inc()
}
