// Package prometheus exports outbound client metrics as prometheus
// collectors.
package prometheus

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-outbound/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultBuckets covers request durations reported in milliseconds.
var DefaultBuckets = prometheus.ExponentialBuckets(5, 2, 12)

// Recorder implements core.MetricsRecorder. Each metric name becomes one
// vector whose label names are fixed by the tags of its first sample;
// later samples fill missing labels with "" and drop unknown ones.
type Recorder struct {
	factory   promauto.Factory
	namespace string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	collector T
	labels    []string
}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// NewRecorder registers collectors on registerer, or on the default
// registerer when nil.
func NewRecorder(registerer prometheus.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		factory:    promauto.With(registerer),
		buckets:    DefaultBuckets,
		counters:   map[string]*vec[*prometheus.CounterVec]{},
		histograms: map[string]*vec[*prometheus.HistogramVec]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	name = sanitizeName(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labels := labelNames(tags)
		entry = &vec[*prometheus.CounterVec]{
			labels: labels,
			collector: r.factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: r.namespace,
				Name:      name,
				Help:      "Outbound counter " + name,
			}, labels),
		}
		r.counters[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	name = sanitizeName(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labels := labelNames(tags)
		entry = &vec[*prometheus.HistogramVec]{
			labels: labels,
			collector: r.factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: r.namespace,
				Name:      name,
				Help:      "Outbound histogram " + name,
				Buckets:   r.buckets,
			}, labels),
		}
		r.histograms[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for key := range tags {
		name := sanitizeName(key)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[sanitizeName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = normalized[label]
	}
	return values
}

// sanitizeName maps "outbound.request.total" to "outbound_request_total".
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
