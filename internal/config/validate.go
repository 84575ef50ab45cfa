package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// targetChecks maps every known job type to the validation of its target section.
var targetChecks = map[string]func(JobConfig) error{
	"gpon":        checkGPON,
	"http":        checkHTTP,
	"file":        checkFile,
	"statfs":      checkStatfs,
	"tcp":         checkTCP,
	"cpu":         noTarget,
	"memory":      noTarget,
	"disk":        noTarget,
	"network":     noTarget,
	"uptime":      noTarget,
	"temperature": noTarget,
	"process":     noTarget,
	"osinfo":      noTarget,
	"boottime":    noTarget,
}

// Validate checks that the configuration can be started. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs error

	if strings.TrimSpace(c.ListenAddress) == "" {
		errs = multierr.Append(errs, errors.New("listen_address is required"))
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		errs = multierr.Append(errs, fmt.Errorf("metrics_path must start with / (got %q)", c.MetricsPath))
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		errs = multierr.Append(errs, fmt.Errorf("health_path must start with / (got %q)", c.HealthPath))
	}
	if c.MetricsPath == c.HealthPath {
		errs = multierr.Append(errs, fmt.Errorf("metrics_path and health_path must differ (both %q)", c.MetricsPath))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Scheduler.StartJitter.Duration < 0 || c.Scheduler.DrainTimeout.Duration < 0 || c.Scheduler.GracePeriod.Duration < 0 {
		errs = multierr.Append(errs, errors.New("scheduler durations must not be negative"))
	}
	if c.Scheduler.MaxConcurrent < 0 {
		errs = multierr.Append(errs, errors.New("scheduler.max_concurrent must not be negative"))
	}
	if c.Checkpoint.Path != "" && c.Checkpoint.Interval.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("checkpoint.interval must be positive"))
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		if j.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("jobs[%d]: name is required", i))
			continue
		}
		if _, dup := seen[j.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("job %q: duplicate name", j.Name))
		}
		seen[j.Name] = struct{}{}
		if err := j.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %q: %w", j.Name, err))
		}
	}
	return errs
}

// Validate checks a single job's schedule and target section.
func (j JobConfig) Validate() error {
	var errs error
	if j.Interval.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("interval must be positive"))
	}
	if j.Timeout.Duration <= 0 || j.Timeout.Duration >= j.Interval.Duration {
		errs = multierr.Append(errs, fmt.Errorf("timeout %s must be positive and shorter than interval %s",
			j.Timeout.Duration, j.Interval.Duration))
	}
	for name, value := range j.Labels {
		if !models.ValidLabelName(name) {
			errs = multierr.Append(errs, fmt.Errorf("invalid label name %q", name))
		}
		if value == "" {
			errs = multierr.Append(errs, fmt.Errorf("label %q has an empty value", name))
		}
	}
	check, ok := targetChecks[j.Type]
	if !ok {
		return multierr.Append(errs, fmt.Errorf("unknown type %q", j.Type))
	}
	return multierr.Append(errs, check(j))
}

// KnownType reports whether t is a job type the exporter can run.
func KnownType(t string) bool {
	_, ok := targetChecks[t]
	return ok
}

func checkGPON(j JobConfig) error {
	g := j.GPON
	if g == nil {
		return errors.New("gpon section is required")
	}
	var errs error
	if g.Host == "" {
		errs = multierr.Append(errs, errors.New("gpon.host is required"))
	}
	if g.Port <= 0 || g.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("gpon.port %d out of range", g.Port))
	}
	if g.Username == "" {
		errs = multierr.Append(errs, errors.New("gpon.username is required"))
	}
	if g.Retries < 0 {
		errs = multierr.Append(errs, errors.New("gpon.retries must not be negative"))
	}
	return errs
}

func checkHTTP(j JobConfig) error {
	h := j.HTTP
	if h == nil {
		return errors.New("http section is required")
	}
	var errs error
	u, err := url.Parse(h.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("http.url %q must be an absolute http(s) URL", h.URL))
	}
	if h.Format != "json" && h.Format != "prometheus" {
		errs = multierr.Append(errs, fmt.Errorf("http.format %q must be json or prometheus", h.Format))
	}
	if h.Prefix != "" && !models.ValidMetricName(h.Prefix) {
		errs = multierr.Append(errs, fmt.Errorf("http.prefix %q is not a valid metric name prefix", h.Prefix))
	}
	if h.Retries < 0 {
		errs = multierr.Append(errs, errors.New("http.retries must not be negative"))
	}
	return errs
}

func checkFile(j JobConfig) error {
	f := j.File
	if f == nil {
		return errors.New("file section is required")
	}
	var errs error
	if f.Path == "" {
		errs = multierr.Append(errs, errors.New("file.path is required"))
	}
	if !models.ValidMetricName(f.Metric) {
		errs = multierr.Append(errs, fmt.Errorf("file.metric %q is not a valid metric name", f.Metric))
	}
	if f.Kind != models.KindGauge && f.Kind != models.KindCounter {
		errs = multierr.Append(errs, fmt.Errorf("file.kind must be gauge or counter (got %s)", f.Kind))
	}
	return errs
}

func checkStatfs(j JobConfig) error {
	if j.Statfs == nil || len(j.Statfs.Paths) == 0 {
		return errors.New("statfs.paths is required")
	}
	return nil
}

func checkTCP(j JobConfig) error {
	if j.TCP == nil || j.TCP.Address == "" {
		return errors.New("tcp.address is required")
	}
	if j.TCP.Retries < 0 {
		return errors.New("tcp.retries must not be negative")
	}
	return nil
}

func noTarget(JobConfig) error { return nil }
