package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/circuitbreaker"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveParse("trailer", nil)
	m.ObserveParse("trailer", []string{"invalid_trace_shape"})
	m.ObserveParse("plain", []string{"unrecognized_format"})
	m.ObserveOutcome("committed")
	m.ObserveOutcome("committed")
	m.ObserveOutcome("errored")
	m.ObserveFragment()
	m.ObserveFragment()
	m.ObserveFragment()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.parses.WithLabelValues("trailer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parses.WithLabelValues("plain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseIssues.WithLabelValues("invalid_trace_shape")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionOutcomes.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionOutcomes.WithLabelValues("errored")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.streamFragments))
}

func TestStreamDurationHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStreamDuration(750 * time.Millisecond)

	expected := `
# HELP seeker_stream_duration_seconds Time from opening a token stream to its end.
# TYPE seeker_stream_duration_seconds histogram
seeker_stream_duration_seconds_bucket{le="0.5"} 0
seeker_stream_duration_seconds_bucket{le="1"} 1
seeker_stream_duration_seconds_bucket{le="2.5"} 1
seeker_stream_duration_seconds_bucket{le="5"} 1
seeker_stream_duration_seconds_bucket{le="10"} 1
seeker_stream_duration_seconds_bucket{le="30"} 1
seeker_stream_duration_seconds_bucket{le="60"} 1
seeker_stream_duration_seconds_bucket{le="120"} 1
seeker_stream_duration_seconds_bucket{le="300"} 1
seeker_stream_duration_seconds_bucket{le="+Inf"} 1
seeker_stream_duration_seconds_sum 0.75
seeker_stream_duration_seconds_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "seeker_stream_duration_seconds"))
}

func TestEndpointFailuresFromCircuitBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	health.OnFailure(m.EndpointFailed)
	health.InitializeEndpoints([]string{"http://a", "http://b"})

	health.RecordFailure("http://a")
	health.RecordFailure("http://a")
	health.RecordFailure("http://b")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.endpointFailures.WithLabelValues("http://a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.endpointFailures.WithLabelValues("http://b")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveParse("plain", []string{"unrecognized_format"})
		m.ObserveOutcome("committed")
		m.ObserveFragment()
		m.ObserveStreamDuration(time.Second)
		m.EndpointFailed("http://a")
	})
}
