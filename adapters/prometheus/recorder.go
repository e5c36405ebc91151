package prometheus

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-leadrelay/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Labels is the fixed label set carried by every relay metric. Tags outside
// the set are dropped; missing tags are reported as empty values.
var Labels = []string{"operation", "status", "upstream", "shape"}

// Recorder implements core.MetricsRecorder on top of a prometheus registry.
// Dotted relay metric names are rewritten to prometheus names, so
// "leadrelay.lead.receive.total" becomes "leadrelay_lead_receive_total".
type Recorder struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	factory    promauto.Factory
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	buckets    []float64
}

type Option func(*Recorder)

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func NewRecorder(registry *prometheus.Registry, opts ...Option) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r := &Recorder{
		registry:   registry,
		factory:    promauto.With(registry),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		buckets:    []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	metric := MetricName(name)
	if metric == "" || value < 0 {
		return
	}
	r.mu.Lock()
	vec, ok := r.counters[metric]
	if !ok {
		vec = r.factory.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: "Relay counter " + strings.TrimSpace(name),
		}, Labels)
		r.counters[metric] = vec
	}
	r.mu.Unlock()
	vec.With(labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	metric := MetricName(name)
	if metric == "" {
		return
	}
	r.mu.Lock()
	vec, ok := r.histograms[metric]
	if !ok {
		vec = r.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    "Relay histogram " + strings.TrimSpace(name),
			Buckets: r.buckets,
		}, Labels)
		r.histograms[metric] = vec
	}
	r.mu.Unlock()
	vec.With(labelValues(tags)).Observe(value)
}

// MetricName maps a dotted metric name onto the prometheus name charset.
func MetricName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	var b strings.Builder
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch == '_':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelValues(tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(Labels))
	for _, key := range Labels {
		labels[key] = strings.TrimSpace(tags[key])
	}
	return labels
}

var _ core.MetricsRecorder = (*Recorder)(nil)
