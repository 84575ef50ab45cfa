package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

const (
	formatJSON       = "json"
	formatPrometheus = "prometheus"

	acceptPrometheus = "text/plain;version=0.0.4;q=0.9,*/*;q=0.1"
)

// HTTPCollector scrapes an HTTP endpoint that returns either a flat JSON
// object of numbers or the Prometheus text format.
type HTTPCollector struct {
	url    string
	format string
	prefix string
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPCollector creates a collector for one HTTP endpoint. Requests are
// retried on transport errors and 5xx answers; the run deadline bounds them.
func NewHTTPCollector(t config.HTTPTarget, logger *zap.Logger) *HTTPCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetHeaders(t.Headers).
		SetRetryCount(t.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})
	return &HTTPCollector{
		url:    t.URL,
		format: t.Format,
		prefix: t.Prefix,
		client: client,
		logger: logger,
	}
}

func newHTTP(cfg config.JobConfig, logger *zap.Logger) (Collector, error) {
	if cfg.HTTP == nil {
		return nil, errors.New("missing http section")
	}
	return NewHTTPCollector(*cfg.HTTP, logger), nil
}

// Name returns the collector identifier.
func (c *HTTPCollector) Name() string { return "http" }

// IsAvailable returns true; HTTP targets work everywhere.
func (c *HTTPCollector) IsAvailable() bool { return true }

// Collect fetches the endpoint once and converts the body into samples.
func (c *HTTPCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	req := c.client.R().SetContext(ctx)
	if c.format == formatPrometheus {
		req.SetHeader("Accept", acceptPrometheus)
	} else {
		req.SetHeader("Accept", "application/json")
	}
	resp, err := req.Get(c.url)
	if err != nil {
		return nil, targetError(ctx, c.url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrTargetUnreachable, c.url, resp.Status())
	}
	c.logger.Debug("Fetched HTTP target",
		zap.String("url", c.url),
		zap.Int("bytes", len(resp.Body())),
		zap.Duration("latency", resp.Time()))

	if c.format == formatPrometheus {
		return parsePrometheusText(resp.Body(), c.prefix)
	}
	return parseFlatJSON(resp.Body(), c.prefix)
}

// parseFlatJSON turns the numeric, numeric-string and boolean top-level
// fields of a JSON object into gauges. Other fields are ignored.
func parseFlatJSON(body []byte, prefix string) ([]models.Sample, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, parseError("decoding JSON object: %v", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var samples []models.Sample
	for _, k := range keys {
		var v float64
		switch val := doc[k].(type) {
		case json.Number:
			f, err := val.Float64()
			if err != nil {
				continue
			}
			v = f
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				continue
			}
			v = f
		case bool:
			if val {
				v = 1
			}
		default:
			continue
		}
		name := sanitizeMetricName(prefix + k)
		samples = append(samples, models.Gauge(name, fmt.Sprintf("Value of JSON field %q.", k), v, nil))
	}
	if len(samples) == 0 {
		return nil, parseError("JSON object has no numeric fields")
	}
	return samples, nil
}

// sanitizeMetricName replaces characters that are not allowed in metric names.
func sanitizeMetricName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// parsePrometheusText converts a Prometheus text exposition into samples,
// keeping declared types. Gauge histograms are skipped.
func parsePrometheusText(body []byte, prefix string) ([]models.Sample, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	if err != nil {
		return nil, parseError("prometheus text: %v", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var samples []models.Sample
	for _, name := range names {
		mf := families[name]
		metricName := prefix + name
		for _, m := range mf.GetMetric() {
			s := models.Sample{
				Identity: models.NewIdentity(metricName, labelPairs(m.GetLabel())),
				Help:     mf.GetHelp(),
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Kind, s.Value = models.KindCounter, m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Kind, s.Value = models.KindGauge, m.GetGauge().GetValue()
			case dto.MetricType_UNTYPED:
				s.Kind, s.Value = models.KindGauge, m.GetUntyped().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				buckets := make(map[float64]uint64, len(h.GetBucket()))
				for _, b := range h.GetBucket() {
					if math.IsInf(b.GetUpperBound(), +1) {
						continue
					}
					buckets[b.GetUpperBound()] = b.GetCumulativeCount()
				}
				s.Kind = models.KindHistogram
				s.Histogram = &models.HistogramValue{Count: h.GetSampleCount(), Sum: h.GetSampleSum(), Buckets: buckets}
			case dto.MetricType_SUMMARY:
				sm := m.GetSummary()
				quantiles := make(map[float64]float64, len(sm.GetQuantile()))
				for _, q := range sm.GetQuantile() {
					quantiles[q.GetQuantile()] = q.GetValue()
				}
				s.Kind = models.KindSummary
				s.Summary = &models.SummaryValue{Count: sm.GetSampleCount(), Sum: sm.GetSampleSum(), Quantiles: quantiles}
			default:
				continue
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func labelPairs(pairs []*dto.LabelPair) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.GetName()] = p.GetValue()
	}
	return out
}
