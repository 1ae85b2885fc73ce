// Package metrics collects engine counters, gauges and histograms.
package metrics

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}

type kind uint8

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

type series struct {
	kind  kind
	name  string
	label string
	value float64
	count int64
	min   float64
	max   float64
}

var _ Collector = (*Registry)(nil)

// Registry is an in-memory Collector.
type Registry struct {
	mu     sync.Mutex
	series map[string]*series
}

func NewRegistry() *Registry {
	return &Registry{series: make(map[string]*series)}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(labels))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (r *Registry) get(k kind, name string, labels map[string]string) *series {
	label := formatLabels(labels)
	id := name + label
	s, ok := r.series[id]
	if !ok {
		s = &series{kind: k, name: name, label: label}
		r.series[id] = s
	}
	return s
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(kindCounter, name, labels).value += delta
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(kindGauge, name, labels).value = value
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(kindHistogram, name, labels)
	if s.count == 0 || value < s.min {
		s.min = value
	}
	if s.count == 0 || value > s.max {
		s.max = value
	}
	s.value += value
	s.count++
}

// Value returns a counter or gauge value, or a histogram's sum.
func (r *Registry) Value(name string, labels map[string]string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[name+formatLabels(labels)]; ok {
		return s.value
	}
	return 0
}

// Count returns how many observations a histogram has seen.
func (r *Registry) Count(name string, labels map[string]string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[name+formatLabels(labels)]; ok {
		return s.count
	}
	return 0
}

// WriteText dumps every series in a line-oriented text format.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.series))
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		s := r.series[id]
		switch s.kind {
		case kindHistogram:
			lines = append(lines,
				fmt.Sprintf("%s_sum%s %g", s.name, s.label, s.value),
				fmt.Sprintf("%s_count%s %d", s.name, s.label, s.count),
				fmt.Sprintf("%s_min%s %g", s.name, s.label, s.min),
				fmt.Sprintf("%s_max%s %g", s.name, s.label, s.max),
			)
		default:
			lines = append(lines, fmt.Sprintf("%s%s %g", s.name, s.label, s.value))
		}
	}
	r.mu.Unlock()

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
