// Package models defines the metric data structures shared by the registry,
// the collection jobs, the exposition server and the checkpoint store.
package models

import (
	"sort"
	"time"
)

// HistogramValue is the structured value of a histogram sample.
// Buckets maps an upper bound to the cumulative count of observations
// less than or equal to it.
type HistogramValue struct {
	Count   uint64             `json:"count"`
	Sum     float64            `json:"sum"`
	Buckets map[float64]uint64 `json:"buckets"`
}

// SummaryValue is the structured value of a summary sample.
type SummaryValue struct {
	Count     uint64              `json:"count"`
	Sum       float64             `json:"sum"`
	Quantiles map[float64]float64 `json:"quantiles"`
}

// Sample is the current value of one series. Collectors emit samples with a
// zero Timestamp; the job stamps them before handing them to the registry.
type Sample struct {
	Identity  Identity
	Kind      Kind
	Help      string
	Value     float64
	Histogram *HistogramValue
	Summary   *SummaryValue
	Timestamp time.Time
}

// Gauge is a shorthand for a gauge sample.
func Gauge(name, help string, value float64, labels map[string]string) Sample {
	return Sample{Identity: NewIdentity(name, labels), Kind: KindGauge, Help: help, Value: value}
}

// Counter is a shorthand for a counter sample.
func Counter(name, help string, value float64, labels map[string]string) Sample {
	return Sample{Identity: NewIdentity(name, labels), Kind: KindCounter, Help: help, Value: value}
}

// Clone returns a deep copy so that the caller can never alias stored state.
func (s Sample) Clone() Sample {
	out := s
	if s.Histogram != nil {
		h := *s.Histogram
		h.Buckets = make(map[float64]uint64, len(s.Histogram.Buckets))
		for k, v := range s.Histogram.Buckets {
			h.Buckets[k] = v
		}
		out.Histogram = &h
	}
	if s.Summary != nil {
		q := *s.Summary
		q.Quantiles = make(map[float64]float64, len(s.Summary.Quantiles))
		for k, v := range s.Summary.Quantiles {
			q.Quantiles[k] = v
		}
		out.Summary = &q
	}
	return out
}

// Snapshot is an immutable point-in-time copy of every stored sample,
// ordered by metric name and then by identity key.
type Snapshot struct {
	TakenAt time.Time
	Samples []Sample
}

// NewSnapshot sorts samples into exposition order.
func NewSnapshot(takenAt time.Time, samples []Sample) Snapshot {
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i].Identity, samples[j].Identity
		if a.Name() != b.Name() {
			return a.Name() < b.Name()
		}
		return a.Key() < b.Key()
	})
	return Snapshot{TakenAt: takenAt, Samples: samples}
}

// Len returns the number of series in the snapshot.
func (s Snapshot) Len() int { return len(s.Samples) }

// Get looks a series up by identity.
func (s Snapshot) Get(id Identity) (Sample, bool) {
	for _, sample := range s.Samples {
		if sample.Identity.Equal(id) {
			return sample, true
		}
	}
	return Sample{}, false
}

// Names returns the distinct metric names in order.
func (s Snapshot) Names() []string {
	var names []string
	for _, sample := range s.Samples {
		if n := sample.Identity.Name(); len(names) == 0 || names[len(names)-1] != n {
			names = append(names, n)
		}
	}
	return names
}
