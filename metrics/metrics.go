// Package metrics exposes Prometheus collectors for parsing, streaming and
// endpoint health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "seeker"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	parses           *prometheus.CounterVec
	parseIssues      *prometheus.CounterVec
	sessionOutcomes  *prometheus.CounterVec
	streamFragments  prometheus.Counter
	streamDuration   prometheus.Histogram
	endpointFailures *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to serve them from promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		parses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_total",
			Help:      "Responses parsed, by the protocol they resolved to.",
		}, []string{"protocol"}),
		parseIssues: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_issues_total",
			Help:      "Recovered parsing problems, by kind.",
		}, []string{"kind"}),
		sessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Submitted queries, by terminal session state.",
		}, []string{"state"}),
		streamFragments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Token fragments applied to bot messages.",
		}),
		streamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Time from opening a token stream to its end.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		endpointFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_failures_total",
			Help:      "Failures recorded by the circuit breaker, by endpoint.",
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) ObserveParse(protocol string, issueKinds []string) {
	if m == nil {
		return
	}
	m.parses.WithLabelValues(protocol).Inc()
	for _, kind := range issueKinds {
		m.parseIssues.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveOutcome(state string) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveFragment() {
	if m == nil {
		return
	}
	m.streamFragments.Inc()
}

func (m *Metrics) ObserveStreamDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.streamDuration.Observe(d.Seconds())
}

// EndpointFailed matches circuitbreaker.HealthManager.OnFailure
func (m *Metrics) EndpointFailed(endpoint string) {
	if m == nil {
		return
	}
	m.endpointFailures.WithLabelValues(endpoint).Inc()
}
