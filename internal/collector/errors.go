package collector

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Guliveer/vitalis/exporter/internal/registry"
)

var (
	// ErrTargetUnreachable means the target could not be contacted or refused the request.
	ErrTargetUnreachable = errors.New("target unreachable")
	// ErrTargetTimeout means the target did not answer before the run deadline.
	ErrTargetTimeout = errors.New("target timed out")
	// ErrParse means the target answered with something that could not be turned into samples.
	ErrParse = errors.New("unparseable target response")
	// ErrUnavailable means the collector cannot run on this platform.
	ErrUnavailable = errors.New("collector not available on this platform")
	// ErrUnknownType means no collector is registered for a job type.
	ErrUnknownType = errors.New("unknown collector type")
)

// targetError classifies a transport error against target into one of the
// sentinel errors above, keeping the cause in the chain.
func targetError(ctx context.Context, target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTargetTimeout) || errors.Is(err, ErrTargetUnreachable) || errors.Is(err, ErrParse) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTargetTimeout, target, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrTargetTimeout, target, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTargetUnreachable, target, err)
}

func parseError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

// Reason maps an error to a short, low-cardinality label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTargetTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrTargetUnreachable):
		return "unreachable"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, registry.ErrKindConflict):
		return "kind_conflict"
	case errors.Is(err, registry.ErrInvalidSample):
		return "invalid_sample"
	default:
		return "error"
	}
}
