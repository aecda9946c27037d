package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the query-round collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rounds       prometheus.Counter
	failures     *prometheus.CounterVec
	framesScored prometheus.Counter
	framesEmpty  prometheus.Counter
	framesChosen prometheus.Counter
	duration     prometheus.Histogram
}

// NewMetrics creates and registers the round collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alquery",
			Name:      "rounds_total",
			Help:      "Query rounds that completed successfully.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alquery",
			Name:      "round_failures_total",
			Help:      "Query rounds that failed, by error kind.",
		}, []string{"kind"}),
		framesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alquery",
			Name:      "frames_scored_total",
			Help:      "Non-empty frames that received a ranking key.",
		}),
		framesEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alquery",
			Name:      "frames_empty_total",
			Help:      "Frames with no detection above the confidence threshold.",
		}),
		framesChosen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alquery",
			Name:      "frames_chosen_total",
			Help:      "Frames moved into the labeled pool.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alquery",
			Name:      "round_duration_seconds",
			Help:      "Wall time of a query round including inference.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	m.registry.MustRegister(m.rounds, m.failures, m.framesScored, m.framesEmpty, m.framesChosen, m.duration)
	return m
}

// ObserveRound records a successful round. A nil receiver is a no-op.
func (m *Metrics) ObserveRound(scored, empty, chosen int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.framesScored.Add(float64(scored))
	m.framesEmpty.Add(float64(empty))
	m.framesChosen.Add(float64(chosen))
	m.duration.Observe(elapsed.Seconds())
}

// ObserveFailure records a failed round under kind. A nil receiver is a no-op.
func (m *Metrics) ObserveFailure(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "other"
	}
	m.failures.WithLabelValues(kind).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
