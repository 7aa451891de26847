package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	charts          *prometheus.CounterVec
	searches        *prometheus.CounterVec
	events          *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astrocal_ephemeris_calls_total",
				Help: "Upstream ephemeris provider calls by operation and result",
			},
			[]string{"op", "result"},
		),
		providerLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "astrocal_ephemeris_call_seconds",
				Help:    "Latency of upstream ephemeris calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astrocal_ephemeris_cache_lookups_total",
				Help: "Ephemeris cache lookups by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		charts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astrocal_charts_total",
				Help: "Charts assembled by kind",
			},
			[]string{"kind"},
		),
		searches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astrocal_conjunction_searches_total",
				Help: "Conjunction searches by progressed body and precision",
			},
			[]string{"body", "precision"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astrocal_conjunction_events_total",
				Help: "Conjunction events found",
			},
			[]string{"body"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astrocal_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "astrocal_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordProviderCall records one upstream ephemeris call.
func (r *Recorder) RecordProviderCall(op string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.providerCalls.WithLabelValues(op, result).Inc()
	r.providerLatency.WithLabelValues(op).Observe(seconds)
}

// RecordCache records a cache hit or miss.
func (r *Recorder) RecordCache(op string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.cacheLookups.WithLabelValues(op, outcome).Inc()
}

// RecordChart counts an assembled chart.
func (r *Recorder) RecordChart(kind string) {
	r.charts.WithLabelValues(kind).Inc()
}

// RecordSearch counts a completed search and the events it produced.
func (r *Recorder) RecordSearch(body string, events int, precision string) {
	r.searches.WithLabelValues(body, precision).Inc()
	r.events.WithLabelValues(body).Add(float64(events))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) RecordProviderCall(string, error, float64) {}
func (Noop) RecordCache(string, bool)                  {}
func (Noop) RecordChart(string)                        {}
func (Noop) RecordSearch(string, int, string)          {}
func (Noop) RecordError(string)                        {}
func (Noop) RecordLatency(string, float64)             {}
