package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/exporter/internal/collector"
	"github.com/Guliveer/vitalis/exporter/internal/models"
	"github.com/Guliveer/vitalis/exporter/internal/registry"
)

type step struct {
	samples []models.Sample
	err     error
	block   bool // wait for ctx, then return samples anyway
	panic   bool
}

// scripted returns one step per Collect call, repeating the last one.
type scripted struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scripted) Name() string      { return "scripted" }
func (s *scripted) IsAvailable() bool { return true }
func (s *scripted) Collect(ctx context.Context) ([]models.Sample, error) {
	s.mu.Lock()
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	s.mu.Unlock()
	if st.panic {
		panic("boom")
	}
	if st.block {
		<-ctx.Done()
	}
	return st.samples, st.err
}

type recorder struct {
	mu        sync.Mutex
	runs      map[Outcome]int
	resets    int
	conflicts int
	up        bool
}

func newRecorder() *recorder { return &recorder{runs: map[Outcome]int{}} }

func (r *recorder) RunFinished(_ string, o Outcome, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[o]++
}
func (r *recorder) StatusChanged(_ string, up bool, _ int, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up = up
}
func (r *recorder) CounterReset(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}
func (r *recorder) KindConflict(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

func newTestJob(t *testing.T, desc Descriptor, c collector.Collector) (*Job, *registry.Registry, *recorder, *clock.Mock) {
	t.Helper()
	reg := registry.New()
	rec := newRecorder()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if desc.Name == "" {
		desc.Name = "test"
	}
	return New(desc, c, reg, Options{Recorder: rec, Clock: mock}), reg, rec, mock
}

func gauge(name string, v float64, labels map[string]string) models.Sample {
	return models.Gauge(name, "", v, labels)
}

func counter(name string, v float64) models.Sample {
	return models.Counter(name, "", v, nil)
}

func TestRun_SuccessAppliesSamples(t *testing.T) {
	c := &scripted{steps: []step{{samples: []models.Sample{
		gauge("my_metric", 42, map[string]string{"instance": "a"}),
	}}}}
	j, reg, rec, mock := newTestJob(t, Descriptor{Labels: map[string]string{"site": "home", "instance": "ignored"}}, c)

	res := j.Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Samples)

	snap := reg.Snapshot()
	s, ok := snap.Get(models.NewIdentity("my_metric", map[string]string{"instance": "a", "site": "home"}))
	require.True(t, ok, "job labels must be merged without overriding collector labels")
	assert.Equal(t, 42.0, s.Value)
	assert.Equal(t, mock.Now(), s.Timestamp)

	st := j.Status()
	assert.Equal(t, OutcomeSuccess, st.LastOutcome)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, uint64(1), st.Runs)
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, rec.up)
}

func TestRun_FailureKeepsStaleSamples(t *testing.T) {
	boom := errors.New("target refused")
	c := &scripted{steps: []step{
		{samples: []models.Sample{gauge("a", 1, nil), gauge("b", 2, nil)}},
		{samples: []models.Sample{gauge("a", 10, nil)}, err: boom},
		{err: boom},
	}}
	j, reg, rec, mock := newTestJob(t, Descriptor{Prune: true}, c)

	require.NoError(t, j.Run(context.Background()).Err)
	firstTS := mock.Now()
	mock.Add(time.Minute)

	res := j.Run(context.Background())
	require.ErrorIs(t, res.Err, boom)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 1, res.Samples, "partial success is applied")

	res = j.Run(context.Background())
	require.ErrorIs(t, res.Err, boom)

	snap := reg.Snapshot()
	require.Equal(t, 2, snap.Len(), "failed runs never prune")
	b, _ := snap.Get(models.NewIdentity("b", nil))
	assert.Equal(t, 2.0, b.Value)
	assert.Equal(t, firstTS, b.Timestamp, "stale sample keeps its last-good timestamp")

	st := j.Status()
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, OutcomeFailure, st.LastOutcome)
	assert.Contains(t, st.LastError, "target refused")
	assert.Equal(t, firstTS, st.LastSuccess)
	assert.Equal(t, 2, rec.runs[OutcomeFailure])
	assert.False(t, rec.up)
}

func TestRun_CounterResetEmitsRawValue(t *testing.T) {
	c := &scripted{steps: []step{
		{samples: []models.Sample{counter("requests_total", 100)}},
		{samples: []models.Sample{counter("requests_total", 150)}},
		{samples: []models.Sample{counter("requests_total", 5)}},
		{samples: []models.Sample{counter("requests_total", 7)}},
	}}
	j, reg, rec, _ := newTestJob(t, Descriptor{}, c)
	id := models.NewIdentity("requests_total", nil)

	for i, want := range []float64{100, 150, 5, 7} {
		res := j.Run(context.Background())
		require.NoError(t, res.Err)
		s, ok := reg.Snapshot().Get(id)
		require.True(t, ok)
		assert.Equal(t, want, s.Value, "run %d", i)
	}
	assert.Equal(t, 1, rec.resets, "only the drop from 150 to 5 is a reset")
}

func TestRun_CancelledContextDiscardsResult(t *testing.T) {
	c := &scripted{steps: []step{{samples: []models.Sample{gauge("late", 1, nil)}, block: true}}}
	j, reg, _, _ := newTestJob(t, Descriptor{}, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := j.Run(ctx)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1, j.Status().ConsecutiveFailures)
}

func TestAbandon_DiscardsLateResult(t *testing.T) {
	c := &scripted{steps: []step{{samples: []models.Sample{gauge("late", 1, nil)}, block: true}}}
	j, reg, rec, _ := newTestJob(t, Descriptor{}, c)

	require.True(t, j.TryBegin())
	require.False(t, j.TryBegin(), "a running job cannot begin again")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- j.Run(ctx) }()

	res, ok := j.Abandon(context.DeadlineExceeded, time.Second)
	require.True(t, ok)
	assert.Equal(t, OutcomeTimeout, res.Outcome)

	cancel()
	late := <-done
	require.ErrorIs(t, late.Err, ErrAbandoned)
	j.Finish()

	assert.Equal(t, 0, reg.Len())
	st := j.Status()
	assert.Equal(t, uint64(1), st.Runs, "the timeout is recorded exactly once")
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, 1, rec.runs[OutcomeTimeout])
	assert.True(t, j.TryBegin())
}

func TestAbandon_AfterCompletionIsNoop(t *testing.T) {
	c := &scripted{steps: []step{{samples: []models.Sample{gauge("x", 1, nil)}}}}
	j, _, _, _ := newTestJob(t, Descriptor{}, c)

	require.True(t, j.TryBegin())
	require.NoError(t, j.Run(context.Background()).Err)
	_, ok := j.Abandon(context.DeadlineExceeded, time.Second)
	assert.False(t, ok)
	j.Finish()
	assert.Equal(t, OutcomeSuccess, j.Status().LastOutcome)
}

func TestRun_PrunesVanishedSeries(t *testing.T) {
	disk := func(mount string) models.Sample {
		return gauge("disk_free_bytes", 1, map[string]string{"mount": mount})
	}
	c := &scripted{steps: []step{
		{samples: []models.Sample{disk("/"), disk("/mnt/usb")}},
		{samples: []models.Sample{disk("/")}},
	}}
	j, reg, _, _ := newTestJob(t, Descriptor{Prune: true}, c)

	require.NoError(t, j.Run(context.Background()).Err)
	require.Equal(t, 2, reg.Len())
	require.NoError(t, j.Run(context.Background()).Err)
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Snapshot().Get(models.NewIdentity("disk_free_bytes", map[string]string{"mount": "/"}))
	assert.True(t, ok)
}

func TestRun_KindConflictFailsRun(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(gauge("shared", 1, nil)))

	rec := newRecorder()
	c := &scripted{steps: []step{{samples: []models.Sample{counter("shared", 5), gauge("own", 2, nil)}}}}
	j := New(Descriptor{Name: "other"}, c, reg, Options{Recorder: rec})

	res := j.Run(context.Background())
	require.ErrorIs(t, res.Err, registry.ErrKindConflict)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 1, res.Samples)
	assert.Equal(t, 1, rec.conflicts)

	s, _ := reg.Snapshot().Get(models.NewIdentity("shared", nil))
	assert.Equal(t, models.KindGauge, s.Kind)
	assert.Equal(t, 1.0, s.Value)
}

func TestRun_RecoversPanics(t *testing.T) {
	c := &scripted{steps: []step{{panic: true}}}
	j, _, _, _ := newTestJob(t, Descriptor{}, c)

	res := j.Run(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panicked")
	assert.Equal(t, OutcomeFailure, j.Status().LastOutcome)
}
