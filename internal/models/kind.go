package models

import (
	"fmt"
	"strings"
)

// Kind is the metric type of a sample as declared on the `# TYPE` line.
type Kind int

const (
	// KindUnknown is the zero value and is never accepted by the registry.
	KindUnknown Kind = iota
	// KindCounter is a monotonically non-decreasing value.
	KindCounter
	// KindGauge is an arbitrary float that may go up and down.
	KindGauge
	// KindHistogram carries cumulative bucket counts plus count and sum.
	KindHistogram
	// KindSummary carries precomputed quantiles plus count and sum.
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	case KindSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// ParseKind converts a configuration string into a Kind.
// "untyped" is accepted as an alias for gauge.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return KindCounter, nil
	case "gauge", "untyped", "":
		return KindGauge, nil
	case "histogram":
		return KindHistogram, nil
	case "summary":
		return KindSummary, nil
	default:
		return KindUnknown, fmt.Errorf("unknown metric kind %q", s)
	}
}

// UnmarshalText lets Kind be used directly in YAML configuration.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
