// Package collector defines the Collector interface and provides the target
// families a job can scrape: GPON sticks over telnet, HTTP endpoints, files,
// filesystems, TCP probes and the local host.
package collector

import (
	"context"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// Collector is the interface that all target families implement.
// A Collector is owned by a single job and is never called concurrently.
type Collector interface {
	// Name returns the target family identifier, e.g. "gpon" or "cpu".
	Name() string

	// Collect gathers samples from the target. It may return samples
	// together with an error when only part of the target answered.
	// Implementations must return promptly once ctx is done.
	Collect(ctx context.Context) ([]models.Sample, error)

	// IsAvailable checks if this collector can run on the current platform.
	IsAvailable() bool
}
