//go:build !windows

// Package service runs the exporter under the Windows service control
// manager. On other platforms the exporter always runs in the foreground.
package service

import (
	"context"

	"go.uber.org/zap"
)

// ExporterService runs the exporter directly.
type ExporterService struct {
	logger *zap.Logger
	runFn  func(ctx context.Context) error
}

// New creates a service wrapper. runFn must return once its ctx is done.
func New(logger *zap.Logger, runFn func(ctx context.Context) error) *ExporterService {
	return &ExporterService{logger: logger, runFn: runFn}
}

// IsWindowsService always returns false outside Windows.
func IsWindowsService() bool {
	return false
}

// Run calls the run function in the foreground.
func (s *ExporterService) Run() error {
	return s.runFn(context.Background())
}
