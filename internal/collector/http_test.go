package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

func TestHTTPCollector_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 21.5, "on": true, "label": "kitchen", "2g-clients": 3, "rssi": "-61"}`))
	}))
	defer srv.Close()

	c := NewHTTPCollector(config.HTTPTarget{
		URL:     srv.URL,
		Format:  "json",
		Prefix:  "sensor_",
		Headers: map[string]string{"X-Api-Key": "token"},
	}, nil)

	samples, err := c.Collect(context.Background())
	require.NoError(t, err)
	got := byName(samples)
	require.Len(t, got, 4)
	assert.Equal(t, -61.0, got["sensor_rssi"].Value)
	assert.Equal(t, 21.5, got["sensor_temp"].Value)
	assert.Equal(t, 1.0, got["sensor_on"].Value)
	assert.Equal(t, 3.0, got["sensor_2g_clients"].Value)
}

func TestHTTPCollector_Prometheus(t *testing.T) {
	body := `# HELP requests_total Requests served.
# TYPE requests_total counter
requests_total{code="200"} 1027
requests_total{code="500"} 3
# TYPE temperature gauge
temperature 21.5
# TYPE latency_seconds histogram
latency_seconds_bucket{le="0.1"} 2
latency_seconds_bucket{le="1"} 5
latency_seconds_bucket{le="+Inf"} 6
latency_seconds_sum 3.2
latency_seconds_count 6
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewHTTPCollector(config.HTTPTarget{URL: srv.URL, Format: "prometheus"}, nil)
	samples, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 4)

	var hist *models.Sample
	counters := 0
	for i, s := range samples {
		switch s.Identity.Name() {
		case "requests_total":
			counters++
			assert.Equal(t, models.KindCounter, s.Kind)
			assert.Equal(t, "Requests served.", s.Help)
		case "latency_seconds":
			hist = &samples[i]
		}
	}
	assert.Equal(t, 2, counters)
	require.NotNil(t, hist)
	assert.Equal(t, models.KindHistogram, hist.Kind)
	assert.Equal(t, uint64(6), hist.Histogram.Count)
	assert.Equal(t, map[float64]uint64{0.1: 2, 1: 5}, hist.Histogram.Buckets)
}

func TestHTTPCollector_Errors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/garbage":
			_, _ = w.Write([]byte("<html>"))
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}
	}))
	defer srv.Close()

	t.Run("server error is retried then reported", func(t *testing.T) {
		c := NewHTTPCollector(config.HTTPTarget{URL: srv.URL + "/down", Format: "json", Retries: 2}, nil)
		_, err := c.Collect(context.Background())
		require.ErrorIs(t, err, ErrTargetUnreachable)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("unparseable body", func(t *testing.T) {
		c := NewHTTPCollector(config.HTTPTarget{URL: srv.URL + "/garbage", Format: "json"}, nil)
		_, err := c.Collect(context.Background())
		require.ErrorIs(t, err, ErrParse)
	})

	t.Run("deadline", func(t *testing.T) {
		c := NewHTTPCollector(config.HTTPTarget{URL: srv.URL + "/slow", Format: "json"}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := c.Collect(ctx)
		require.ErrorIs(t, err, ErrTargetTimeout)
	})
}

func TestSanitizeMetricName(t *testing.T) {
	tests := map[string]string{
		"temp":        "temp",
		"cpu.load-1m": "cpu_load_1m",
		"1st":         "_1st",
		"a:b":         "a:b",
	}
	for in, want := range tests {
		if got := sanitizeMetricName(in); got != want {
			t.Errorf("sanitizeMetricName(%q) = %q, want %q", in, got, want)
		}
	}
}
