// Package registry implements the in-memory metric store: the single source
// of truth written by collection jobs and read by the exposition server.
//
// A single RWMutex guards the maps. It is held only for map access and value
// copies, never across I/O, so an upsert or snapshot never waits on a target.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

var (
	// ErrKindConflict is matched by errors.Is on a *KindConflictError.
	ErrKindConflict = errors.New("metric kind conflict")

	// ErrInvalidSample is returned for samples that cannot be exposed.
	ErrInvalidSample = errors.New("invalid sample")
)

// KindConflictError reports an update whose kind disagrees with the kind
// already stored for the same metric name. The update is rejected and the
// stored series keep their values.
type KindConflictError struct {
	Name     string
	Existing models.Kind
	Got      models.Kind
}

func (e *KindConflictError) Error() string {
	return fmt.Sprintf("metric %s is a %s, refusing %s update", e.Name, e.Existing, e.Got)
}

// Is makes errors.Is(err, ErrKindConflict) work.
func (e *KindConflictError) Is(target error) bool { return target == ErrKindConflict }

// family tracks what every series of one metric name must agree on.
type family struct {
	kind         models.Kind
	help         string
	explicitHelp bool
	series       int
}

// Registry maps metric identities to their latest sample.
type Registry struct {
	mu       sync.RWMutex
	series   map[string]models.Sample
	families map[string]*family
	now      func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		series:   make(map[string]models.Sample),
		families: make(map[string]*family),
		now:      time.Now,
	}
}

// Upsert inserts or replaces the sample stored under s.Identity.
// Concurrent upserts on one identity are serialized; the last to acquire the
// lock wins regardless of the Timestamp field.
func (r *Registry) Upsert(s models.Sample) error {
	if err := validate(s); err != nil {
		return err
	}
	stored := s.Clone()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = r.now()
	}

	name := s.Identity.Name()
	key := s.Identity.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	fam, ok := r.families[name]
	if ok && fam.kind != s.Kind {
		return &KindConflictError{Name: name, Existing: fam.kind, Got: s.Kind}
	}
	if !ok {
		fam = &family{kind: s.Kind, help: DefaultHelp(name)}
		r.families[name] = fam
	}
	if s.Help != "" && s.Help != fam.help && !fam.explicitHelp {
		fam.help = s.Help
		fam.explicitHelp = true
	}
	// Help belongs to the family and is filled in by Snapshot.
	stored.Help = ""

	if _, exists := r.series[key]; !exists {
		fam.series++
	}
	r.series[key] = stored
	return nil
}

// Remove deletes the series for id. Removing an absent identity is a no-op
// and reports false.
func (r *Registry) Remove(id models.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.series[id.Key()]; !ok {
		return false
	}
	delete(r.series, id.Key())
	if fam := r.families[id.Name()]; fam != nil {
		fam.series--
		if fam.series <= 0 {
			delete(r.families, id.Name())
		}
	}
	return true
}

// Snapshot returns an isolated copy of every stored sample.
func (r *Registry) Snapshot() models.Snapshot {
	r.mu.RLock()
	samples := make([]models.Sample, 0, len(r.series))
	for _, s := range r.series {
		if fam := r.families[s.Identity.Name()]; fam != nil {
			s.Help = fam.help
		}
		samples = append(samples, s)
	}
	takenAt := r.now()
	r.mu.RUnlock()

	// Stored histogram/summary values are replaced, never mutated, so the
	// deep copy can happen outside the lock.
	for i := range samples {
		samples[i] = samples[i].Clone()
	}
	return models.NewSnapshot(takenAt, samples)
}

// Restore loads previously persisted samples, keeping their timestamps.
// Samples that fail validation or conflict are skipped and reported.
// A persisted fallback help does not count as explicit, so help sent by
// the next collection still takes over.
func (r *Registry) Restore(samples []models.Sample) (int, error) {
	var (
		restored int
		errs     error
	)
	for _, s := range samples {
		if err := r.Upsert(s); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore %s: %w", s.Identity, err))
			continue
		}
		restored++
	}
	return restored, errs
}

// Len returns the number of stored series.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.series)
}

func validate(s models.Sample) error {
	name := s.Identity.Name()
	if !models.ValidMetricName(name) {
		return fmt.Errorf("%w: metric name %q", ErrInvalidSample, name)
	}
	for _, l := range s.Identity.Labels() {
		if !models.ValidLabelName(l.Name) {
			return fmt.Errorf("%w: label name %q on %s", ErrInvalidSample, l.Name, name)
		}
	}

	switch s.Kind {
	case models.KindCounter, models.KindGauge:
	case models.KindHistogram:
		if s.Histogram == nil {
			return fmt.Errorf("%w: histogram %s without buckets", ErrInvalidSample, name)
		}
		if s.Identity.Label("le") != "" {
			return fmt.Errorf("%w: histogram %s uses reserved label le", ErrInvalidSample, name)
		}
	case models.KindSummary:
		if s.Summary == nil {
			return fmt.Errorf("%w: summary %s without quantiles", ErrInvalidSample, name)
		}
		if s.Identity.Label("quantile") != "" {
			return fmt.Errorf("%w: summary %s uses reserved label quantile", ErrInvalidSample, name)
		}
	default:
		return fmt.Errorf("%w: %s has kind %s", ErrInvalidSample, name, s.Kind)
	}
	return nil
}

// DefaultHelp is the help exposed for a metric whose samples never
// carried one.
func DefaultHelp(name string) string {
	return "Collected metric " + name + "."
}
