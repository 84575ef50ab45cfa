package models

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRE  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidMetricName reports whether name is usable as a Prometheus metric name.
func ValidMetricName(name string) bool {
	return metricNameRE.MatchString(name)
}

// ValidLabelName reports whether name is usable as a label name.
// Names starting with "__" are reserved.
func ValidLabelName(name string) bool {
	return labelNameRE.MatchString(name) && !strings.HasPrefix(name, "__")
}

// Label is a single label pair.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Identity is the immutable (name, label set) pair that keys a series.
// Labels are held sorted by name so two identities built from the same
// mapping in any order compare equal.
type Identity struct {
	name   string
	labels []Label
	key    string
}

// NewIdentity builds an identity from a name and a label mapping.
// Labels with an empty value are dropped: in the exposition format an empty
// label value is indistinguishable from an absent label.
func NewIdentity(name string, labels map[string]string) Identity {
	pairs := make([]Label, 0, len(labels))
	for n, v := range labels {
		if n == "" || v == "" {
			continue
		}
		pairs = append(pairs, Label{Name: n, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })

	return Identity{name: name, labels: pairs, key: encodeKey(name, pairs)}
}

// Name returns the metric name.
func (id Identity) Name() string { return id.name }

// Key returns the canonical string form, e.g. `up{instance="a",job="b"}`.
func (id Identity) Key() string { return id.key }

// String implements fmt.Stringer.
func (id Identity) String() string { return id.key }

// Labels returns a copy of the sorted label pairs.
func (id Identity) Labels() []Label {
	out := make([]Label, len(id.labels))
	copy(out, id.labels)
	return out
}

// LabelMap returns the label set as a fresh map.
func (id Identity) LabelMap() map[string]string {
	out := make(map[string]string, len(id.labels))
	for _, l := range id.labels {
		out[l.Name] = l.Value
	}
	return out
}

// Label returns the value of the named label, or "" if absent.
func (id Identity) Label(name string) string {
	for _, l := range id.labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

// Equal reports whether both identities have the same name and label set.
func (id Identity) Equal(other Identity) bool { return id.key == other.key }

// IsZero reports whether the identity was never initialised.
func (id Identity) IsZero() bool { return id.name == "" && len(id.labels) == 0 }

// WithDefaults returns a new identity where labels from defaults are added
// unless the identity already carries a label of the same name.
func (id Identity) WithDefaults(defaults map[string]string) Identity {
	if len(defaults) == 0 {
		return id
	}
	merged := make(map[string]string, len(defaults)+len(id.labels))
	for n, v := range defaults {
		merged[n] = v
	}
	for _, l := range id.labels {
		merged[l.Name] = l.Value
	}
	return NewIdentity(id.name, merged)
}

func encodeKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(l.Value))
	}
	b.WriteByte('}')
	return b.String()
}
