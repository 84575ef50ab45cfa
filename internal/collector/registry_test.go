package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
	"github.com/Guliveer/vitalis/exporter/internal/registry"
)

type unavailableCollector struct{}

func (unavailableCollector) Name() string { return "never" }
func (unavailableCollector) Collect(context.Context) ([]models.Sample, error) {
	return nil, nil
}
func (unavailableCollector) IsAvailable() bool { return false }

func TestRegistry_Build(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())

	c, err := r.Build(config.JobConfig{Name: "ont", Type: "gpon", GPON: &config.GPONTarget{Host: "h", Port: 23}})
	require.NoError(t, err)
	assert.Equal(t, "gpon", c.Name())

	_, err = r.Build(config.JobConfig{Name: "x", Type: "snmp"})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = r.Build(config.JobConfig{Name: "x", Type: "http"})
	require.Error(t, err)

	r.Register("never", func(config.JobConfig, *zap.Logger) (Collector, error) { return unavailableCollector{}, nil })
	_, err = r.Build(config.JobConfig{Name: "n", Type: "never"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRegistry_CoversConfigTypes(t *testing.T) {
	r := NewDefaultRegistry(zap.NewNop())
	for _, typ := range r.Types() {
		assert.True(t, config.KnownType(typ), "collector type %q is not accepted by config validation", typ)
	}
	assert.Len(t, r.Types(), 14)
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{targetError(context.Background(), "x", context.DeadlineExceeded), "timeout"},
		{parseError("bad"), "parse"},
		{fmt.Errorf("wrapped: %w", ErrTargetUnreachable), "unreachable"},
		{&registry.KindConflictError{Name: "m", Existing: models.KindGauge, Got: models.KindCounter}, "kind_conflict"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
