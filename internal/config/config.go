// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "1m30s" or "1d".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
// Bare numbers are read as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return str2duration.String(d.Duration), nil
}

// ParseDuration accepts Go duration strings, day/week suffixes and plain seconds.
func ParseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Config holds all exporter configuration.
type Config struct {
	ListenAddress string           `yaml:"listen_address"`
	MetricsPath   string           `yaml:"metrics_path"`
	HealthPath    string           `yaml:"health_path"`
	Exposition    ExpositionConfig `yaml:"exposition"`
	Scheduler     SchedulerConfig  `yaml:"scheduler"`
	Logging       LoggingConfig    `yaml:"logging"`
	Checkpoint    CheckpointConfig `yaml:"checkpoint"`
	Jobs          []JobConfig      `yaml:"jobs"`
}

// ExpositionConfig controls how /metrics is rendered and served.
type ExpositionConfig struct {
	Timestamps          bool     `yaml:"timestamps"`
	SelfMetrics         bool     `yaml:"self_metrics"`
	MaxRequestsInFlight int      `yaml:"max_requests_in_flight"`
	ReadHeaderTimeout   Duration `yaml:"read_header_timeout"`
	ShutdownTimeout     Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig holds settings shared by all jobs.
type SchedulerConfig struct {
	StartJitter   Duration `yaml:"start_jitter"`
	DrainTimeout  Duration `yaml:"drain_timeout"`
	GracePeriod   Duration `yaml:"grace_period"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CheckpointConfig holds the registry checkpoint settings. An empty path disables it.
type CheckpointConfig struct {
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
}

// JobConfig describes one collection job. Exactly one target section is read,
// chosen by Type; host collectors need none.
type JobConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Interval Duration          `yaml:"interval"`
	Timeout  Duration          `yaml:"timeout"`
	Labels   map[string]string `yaml:"labels,omitempty"`
	Prune    bool              `yaml:"prune,omitempty"`

	GPON   *GPONTarget   `yaml:"gpon,omitempty"`
	HTTP   *HTTPTarget   `yaml:"http,omitempty"`
	File   *FileTarget   `yaml:"file,omitempty"`
	Statfs *StatfsTarget `yaml:"statfs,omitempty"`
	TCP    *TCPTarget    `yaml:"tcp,omitempty"`
	Host   *HostTarget   `yaml:"host,omitempty"`
}

// GPONTarget is a GPON ONT stick reachable over telnet.
type GPONTarget struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	CommandTimeout Duration `yaml:"command_timeout"`
	Retries        int      `yaml:"retries"`
}

// HTTPTarget is an HTTP endpoint returning flat JSON or Prometheus text.
type HTTPTarget struct {
	URL     string            `yaml:"url"`
	Format  string            `yaml:"format"`
	Prefix  string            `yaml:"prefix"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Retries int               `yaml:"retries"`
}

// FileTarget reads a single number from a file, e.g. a sysfs attribute.
type FileTarget struct {
	Path   string            `yaml:"path"`
	Metric string            `yaml:"metric"`
	Help   string            `yaml:"help"`
	Kind   models.Kind       `yaml:"kind"`
	Scale  float64           `yaml:"scale"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// StatfsTarget lists mount points to report filesystem capacity for.
type StatfsTarget struct {
	Paths []string `yaml:"paths"`
}

// TCPTarget is a TCP connect probe.
type TCPTarget struct {
	Address string `yaml:"address"`
	Retries int    `yaml:"retries"`
}

// HostTarget tunes the host collectors.
type HostTarget struct {
	TopProcesses int `yaml:"top_processes"`
}

const (
	defaultJobInterval    = 60 * time.Second
	maxDefaultJobTimeout  = 30 * time.Second
	defaultGPONPort       = 23
	defaultCommandTimeout = 10 * time.Second
	defaultTopProcesses   = 10
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: ":8111",
		MetricsPath:   "/metrics",
		HealthPath:    "/healthz",
		Exposition: ExpositionConfig{
			Timestamps:          false,
			SelfMetrics:         true,
			MaxRequestsInFlight: 10,
			ReadHeaderTimeout:   Duration{3 * time.Second},
			ShutdownTimeout:     Duration{5 * time.Second},
		},
		Scheduler: SchedulerConfig{
			StartJitter:  Duration{5 * time.Second},
			DrainTimeout: Duration{10 * time.Second},
			GracePeriod:  Duration{5 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Checkpoint: CheckpointConfig{
			Interval: Duration{time.Minute},
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take precedence over values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyJobDefaults()

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty only defaults and environment variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromBytes(data)
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	ListenAddress string
	MetricsPath   string
	LogLevel      string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > YAML file > defaults.
//
// An explicit configPath must exist. When it is empty the standard locations
// are searched and a missing file is not an error.
func LoadLayered(cli CLIOverrides, configPath string) (*Config, error) {
	var data []byte
	filePath := configPath
	if filePath == "" {
		filePath = Locate()
	}
	if filePath != "" {
		b, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", filePath, err)
		}
		data = b
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", displayPath(filePath), err)
	}

	if cli.ListenAddress != "" {
		cfg.ListenAddress = cli.ListenAddress
	}
	if cli.MetricsPath != "" {
		cfg.MetricsPath = cli.MetricsPath
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}

	return cfg, nil
}

func displayPath(p string) string {
	if p == "" {
		return "defaults"
	}
	return p
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyJobDefaults fills per-job values left unset in the file.
func (c *Config) applyJobDefaults() {
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Interval.Duration == 0 {
			j.Interval.Duration = defaultJobInterval
		}
		if j.Timeout.Duration == 0 {
			j.Timeout.Duration = min(j.Interval.Duration/2, maxDefaultJobTimeout)
		}
		if j.GPON != nil {
			if j.GPON.Port == 0 {
				j.GPON.Port = defaultGPONPort
			}
			if j.GPON.CommandTimeout.Duration == 0 {
				j.GPON.CommandTimeout.Duration = defaultCommandTimeout
			}
		}
		if j.HTTP != nil && j.HTTP.Format == "" {
			j.HTTP.Format = "json"
		}
		if j.File != nil {
			if j.File.Scale == 0 {
				j.File.Scale = 1
			}
			if j.File.Kind == models.KindUnknown {
				j.File.Kind = models.KindGauge
			}
		}
		if j.Host != nil && j.Host.TopProcesses == 0 {
			j.Host.TopProcesses = defaultTopProcesses
		}
	}
}
