package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// TCPCollector probes whether a TCP port accepts connections.
// A refused probe still reports up 0 alongside the failure.
type TCPCollector struct {
	address string
	retries int
	logger  *zap.Logger
}

// NewTCPCollector creates a TCP connect probe.
func NewTCPCollector(t config.TCPTarget, logger *zap.Logger) *TCPCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPCollector{address: t.Address, retries: t.Retries, logger: logger}
}

func newTCP(cfg config.JobConfig, logger *zap.Logger) (Collector, error) {
	if cfg.TCP == nil {
		return nil, errors.New("missing tcp section")
	}
	return NewTCPCollector(*cfg.TCP, logger), nil
}

// Name returns the collector identifier.
func (c *TCPCollector) Name() string { return "tcp" }

// IsAvailable returns true; TCP works everywhere.
func (c *TCPCollector) IsAvailable() bool { return true }

// Collect dials the address once (plus retries).
func (c *TCPCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	labels := map[string]string{"address": c.address}
	start := time.Now()
	conn, err := dialWithRetry(ctx, c.address, c.retries)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Debug("TCP probe failed", zap.String("address", c.address), zap.Error(err))
		return []models.Sample{
			models.Gauge("tcp_probe_up", "Whether the TCP port accepted a connection.", 0, labels),
		}, err
	}
	_ = conn.Close()

	return []models.Sample{
		models.Gauge("tcp_probe_up", "Whether the TCP port accepted a connection.", 1, labels),
		models.Gauge("tcp_probe_connect_seconds", "Time taken to establish the TCP connection.", elapsed.Seconds(), labels),
	}, nil
}
