//go:build windows

// Package service runs the exporter under the Windows service control
// manager. Started from a terminal, the exporter runs in the foreground.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

const (
	serviceName = "VitalisExporter"
	stopTimeout = 30 * time.Second
)

// ExporterService implements svc.Handler around a blocking run function.
type ExporterService struct {
	logger *zap.Logger
	runFn  func(ctx context.Context) error
	err    error
}

// New creates a service wrapper. runFn must return once its ctx is done.
func New(logger *zap.Logger, runFn func(ctx context.Context) error) *ExporterService {
	return &ExporterService{logger: logger, runFn: runFn}
}

// IsWindowsService reports whether the process was started by the SCM.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run enters the SCM control loop and returns the run function's error.
func (s *ExporterService) Run() error {
	if err := svc.Run(serviceName, s); err != nil {
		return err
	}
	return s.err
}

// Execute implements svc.Handler.
func (s *ExporterService) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.runFn(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			// The exporter stopped on its own, e.g. the listener failed.
			s.err = err
			changes <- svc.Status{State: svc.StopPending}
			if err != nil {
				return true, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending, WaitHint: uint32(stopTimeout / time.Millisecond)}
				cancel()
				select {
				case s.err = <-done:
				case <-time.After(stopTimeout):
					s.logger.Warn("Exporter did not stop in time", zap.Duration("timeout", stopTimeout))
				}
				return false, 0
			default:
				s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
