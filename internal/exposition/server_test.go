package exposition

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/exporter/internal/job"
	"github.com/Guliveer/vitalis/exporter/internal/models"
	"github.com/Guliveer/vitalis/exporter/internal/registry"
)

type staticStatuses []job.Status

func (s staticStatuses) Statuses() []job.Status { return s }

func get(t *testing.T, h http.Handler, path string) *http.Response {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Result()
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServer_EmptyRegistry(t *testing.T) {
	s := New(Config{}, gathererFor(t, registry.New()), nil, nil)

	resp := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain; version=0.0.4"),
		"content type %q", resp.Header.Get("Content-Type"))
	out := body(t, resp)
	assert.Empty(t, out)
	assert.NotContains(t, out, "# TYPE")
}

func TestServer_RendersValues(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(models.Gauge("my_metric", "", 42.0, map[string]string{"instance": "a"})))
	require.NoError(t, reg.Upsert(models.Gauge("ratio", "", 0.25, nil)))
	require.NoError(t, reg.Upsert(models.Gauge("limit", "", math.Inf(1), map[string]string{"k": "pos"})))
	require.NoError(t, reg.Upsert(models.Gauge("limit", "", math.Inf(-1), map[string]string{"k": "neg"})))
	require.NoError(t, reg.Upsert(models.Gauge("limit", "", math.NaN(), map[string]string{"k": "nan"})))

	s := New(Config{}, gathererFor(t, reg), nil, nil)
	out := body(t, get(t, s.Handler(), "/metrics"))

	assert.Contains(t, out, "my_metric{instance=\"a\"} 42\n")
	assert.Equal(t, 1, strings.Count(out, "# TYPE my_metric gauge\n"))
	assert.Contains(t, out, "ratio 0.25\n")
	assert.Contains(t, out, "limit{k=\"pos\"} +Inf\n")
	assert.Contains(t, out, "limit{k=\"neg\"} -Inf\n")
	assert.Contains(t, out, "limit{k=\"nan\"} NaN\n")
	assert.Equal(t, 1, strings.Count(out, "# TYPE limit gauge\n"))
}

func TestServer_Timestamps(t *testing.T) {
	reg := registry.New()
	at := time.UnixMilli(1700000000123)
	s := models.Gauge("up", "", 1, nil)
	s.Timestamp = at
	require.NoError(t, reg.Upsert(s))

	pr := prometheus.NewRegistry()
	require.NoError(t, pr.Register(NewSnapshotCollector(reg, true, nil)))
	out := body(t, get(t, New(Config{}, pr, nil, nil).Handler(), "/metrics"))
	assert.Contains(t, out, "up 1 1700000000123\n")
}

func TestServer_MergesSelfMetrics(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Upsert(models.Gauge("my_metric", "", 1, nil)))

	self := prometheus.NewRegistry()
	up := prometheus.NewGauge(prometheus.GaugeOpts{Name: "vitalis_exporter_job_up", Help: "Up."})
	up.Set(1)
	self.MustRegister(up)

	s := New(Config{}, prometheus.Gatherers{gathererFor(t, reg), self}, nil, nil)
	out := body(t, get(t, s.Handler(), "/metrics"))
	assert.Contains(t, out, "my_metric 1\n")
	assert.Contains(t, out, "vitalis_exporter_job_up 1\n")
}

func TestServer_Health(t *testing.T) {
	s := New(Config{HealthPath: "/live"}, prometheus.NewRegistry(), nil, nil)
	resp := get(t, s.Handler(), "/live")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body(t, resp))
}

func TestServer_Jobs(t *testing.T) {
	statuses := staticStatuses{{
		Name:                "ont",
		Type:                "gpon",
		IntervalSeconds:     60,
		State:               job.StateIdle,
		LastOutcome:         job.OutcomeFailure,
		ConsecutiveFailures: 2,
		LastRun:             time.Unix(1700000000, 0).UTC(),
	}, {
		Name:  "fresh",
		Type:  "host",
		State: job.StateIdle,
	}}
	s := New(Config{}, prometheus.NewRegistry(), statuses, nil)

	resp := get(t, s.Handler(), "/jobs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body(t, resp)), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "ont", got[0]["name"])
	assert.Equal(t, "failure", got[0]["last_outcome"])
	assert.EqualValues(t, 2, got[0]["consecutive_failures"])
	assert.Equal(t, "2023-11-14T22:13:20Z", got[0]["last_run"])
	assert.NotContains(t, got[0], "last_success", "a job that never succeeded has no success time")

	assert.Equal(t, "fresh", got[1]["name"])
	assert.NotContains(t, got[1], "last_run")
	assert.NotContains(t, got[1], "last_success")
}

func TestServer_Index(t *testing.T) {
	s := New(Config{MetricsPath: "/custom"}, prometheus.NewRegistry(), nil, nil)
	out := body(t, get(t, s.Handler(), "/"))
	assert.Contains(t, out, `href="/custom"`)

	resp := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListenBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(Config{ListenAddress: ln.Addr().String()}, prometheus.NewRegistry(), nil, nil)
	require.ErrorIs(t, s.Listen(), ErrListenBind)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s := New(Config{ListenAddress: "127.0.0.1:0"}, gathererFor(t, registry.New()), nil, nil)
	require.NoError(t, s.Listen())

	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
