package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/exporter/internal/job"
)

func TestMetrics_JobLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, func() int { return 7 })
	m.InitJob("ont")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.up.WithLabelValues("ont")))

	m.RunFinished("ont", job.OutcomeFailure, "timeout", 2*time.Second)
	m.StatusChanged("ont", false, 1, time.Time{})
	m.RunFinished("ont", job.OutcomeSuccess, "", time.Second)
	m.StatusChanged("ont", true, 0, time.Unix(1700000000, 0))
	m.TickSkipped("ont")
	m.CounterReset("ont", "x_total")
	m.KindConflict("ont", "x")
	m.RunHung("ont")
	m.CheckpointSaved(nil)
	m.CheckpointSaved(errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.up.WithLabelValues("ont")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ont", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ont", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reasons.WithLabelValues("ont", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reasons), "successes carry no reason")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues("ont")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSuccess.WithLabelValues("ont")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("ont")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resets.WithLabelValues("ont")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("ont")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints.WithLabelValues("failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration), "one histogram series per job")
}

func TestMetrics_FailureReasons(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, func() int { return 0 })

	m.RunFinished("ont", job.OutcomeFailure, "unreachable", time.Second)
	m.RunFinished("ont", job.OutcomeFailure, "unreachable", time.Second)
	m.RunFinished("ont", job.OutcomeFailure, "parse", time.Second)
	m.RunFinished("ont", job.OutcomeTimeout, "timeout", time.Second)

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP vitalis_exporter_job_failures_total Failed or timed out job runs by reason.
# TYPE vitalis_exporter_job_failures_total counter
vitalis_exporter_job_failures_total{job="ont",reason="parse"} 1
vitalis_exporter_job_failures_total{job="ont",reason="timeout"} 1
vitalis_exporter_job_failures_total{job="ont",reason="unreachable"} 2
`), "vitalis_exporter_job_failures_total")
	require.NoError(t, err)
}

func TestMetrics_RegistrySeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, func() int { return 3 })

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP vitalis_exporter_registry_series Series currently held in the sample registry.
# TYPE vitalis_exporter_registry_series gauge
vitalis_exporter_registry_series 3
`), "vitalis_exporter_registry_series")
	require.NoError(t, err)
}

func TestOwnedNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, func() int { return 0 })

	owned, err := OwnedNames(reg)
	require.NoError(t, err)
	assert.True(t, owned("go_goroutines"))
	assert.True(t, owned("vitalis_exporter_registry_series"))
	assert.True(t, owned("vitalis_exporter_job_hung_runs_total"), "namespace is owned before the first observation")
	assert.False(t, owned("node_load1"))
	assert.False(t, owned("up"))
}
