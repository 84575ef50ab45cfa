package exposition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/job"
)

const (
	defaultReadHeaderTimeout = 3 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// ErrListenBind is returned when the listen address cannot be acquired.
var ErrListenBind = errors.New("cannot bind listen address")

// Config holds the HTTP server settings.
type Config struct {
	ListenAddress       string
	MetricsPath         string
	HealthPath          string
	MaxRequestsInFlight int
	ReadHeaderTimeout   time.Duration
	ShutdownTimeout     time.Duration
}

// ConfigFrom extracts the server settings from the exporter configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		ListenAddress:       c.ListenAddress,
		MetricsPath:         c.MetricsPath,
		HealthPath:          c.HealthPath,
		MaxRequestsInFlight: c.Exposition.MaxRequestsInFlight,
		ReadHeaderTimeout:   c.Exposition.ReadHeaderTimeout.Duration,
		ShutdownTimeout:     c.Exposition.ShutdownTimeout.Duration,
	}
}

// StatusSource reports the state of every scheduled job.
type StatusSource interface {
	Statuses() []job.Status
}

// Server exposes the metrics, health and job status endpoints.
type Server struct {
	cfg      Config
	gatherer prometheus.Gatherer
	jobs     StatusSource
	logger   *zap.Logger

	srv      *http.Server
	listener net.Listener
}

// New creates a server rendering whatever gatherer returns. jobs may be nil,
// in which case /jobs reports an empty list.
func New(cfg Config, gatherer prometheus.Gatherer, jobs StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{cfg: cfg, gatherer: gatherer, jobs: jobs, logger: logger}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	return s
}

// Handler returns the router with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:            zap.NewStdLog(s.logger.Named("promhttp")),
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: s.cfg.MaxRequestsInFlight,
	}))
	r.Get(s.cfg.HealthPath, s.handleHealth)
	r.Get("/jobs", s.handleJobs)
	r.Get("/", s.handleIndex)
	return r
}

// Listen binds the listen address. It fails with ErrListenBind so the
// caller can treat it as a fatal startup error. Binding twice is a no-op.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrListenBind, s.cfg.ListenAddress, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.ListenAddress
}

// Serve accepts connections until Shutdown, binding first if needed.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("Serving metrics",
		zap.String("address", s.Addr()),
		zap.String("metrics_path", s.cfg.MetricsPath))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown stops accepting scrapes and waits for in-flight ones up to
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("Error shutting down metrics server", zap.Error(err))
		return err
	}
	s.logger.Info("Metrics server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	statuses := []job.Status{}
	if s.jobs != nil {
		statuses = s.jobs.Statuses()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(statuses); err != nil {
		s.logger.Debug("Writing job status failed", zap.Error(err))
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<html>
<head><title>Vitalis Exporter</title></head>
<body>
<h1>Vitalis Exporter</h1>
<ul>
<li><a href="{{.Metrics}}">Metrics</a></li>
<li><a href="{{.Health}}">Health</a></li>
<li><a href="/jobs">Jobs</a></li>
</ul>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTemplate.Execute(w, struct{ Metrics, Health string }{s.cfg.MetricsPath, s.cfg.HealthPath})
}
