package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(cfg Config) (*HealthManager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	hm := NewHealthManager(cfg)
	hm.now = clock.now
	return hm, clock
}

type recordedEvent struct {
	level   string
	message string
}

type recordingObsLogger struct {
	events []recordedEvent
}

func (r *recordingObsLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	r.events = append(r.events, recordedEvent{"info", message})
}

func (r *recordingObsLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	r.events = append(r.events, recordedEvent{"warn", message})
}

func (r *recordingObsLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	r.events = append(r.events, recordedEvent{"error", message})
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	hm, clock := newTestManager(DefaultConfig())
	endpoint := "http://a/v1/chat/completions"
	hm.InitializeEndpoints([]string{endpoint})

	t.Run("InitiallyHealthy", func(t *testing.T) {
		assert.True(t, hm.IsHealthy(endpoint))
	})

	t.Run("SingleFailureKeepsCircuitClosed", func(t *testing.T) {
		hm.RecordFailure(endpoint)
		assert.True(t, hm.IsHealthy(endpoint))
	})

	t.Run("CircuitOpensAtThreshold", func(t *testing.T) {
		hm.RecordFailure(endpoint)
		assert.False(t, hm.IsHealthy(endpoint))

		health, ok := hm.Snapshot(endpoint)
		require.True(t, ok)
		assert.True(t, health.CircuitOpen)
		assert.Equal(t, 2, health.FailureCount)
		assert.Equal(t, clock.t.Add(30*time.Second), health.NextRetryTime)
	})

	t.Run("RetryAllowedAfterBackoff", func(t *testing.T) {
		clock.advance(31 * time.Second)
		assert.True(t, hm.IsHealthy(endpoint))
	})

	t.Run("SuccessClosesCircuit", func(t *testing.T) {
		hm.RecordSuccess(endpoint)
		health, _ := hm.Snapshot(endpoint)
		assert.False(t, health.CircuitOpen)
		assert.Zero(t, health.FailureCount)
		assert.Equal(t, 3, health.TotalRequests)
	})
}

func TestCircuitBreakerBackoffGrowsAndCaps(t *testing.T) {
	hm, clock := newTestManager(Config{
		FailureThreshold:   1,
		BackoffDuration:    10 * time.Second,
		MaxBackoffDuration: 35 * time.Second,
	})
	endpoint := "http://a"

	expected := []time.Duration{10 * time.Second, 20 * time.Second, 35 * time.Second, 35 * time.Second}
	for i, want := range expected {
		hm.RecordFailure(endpoint)
		health, _ := hm.Snapshot(endpoint)
		assert.Equal(t, clock.t.Add(want), health.NextRetryTime, "failure %d", i+1)
	}
}

func TestCircuitBreakerStaleFailuresReset(t *testing.T) {
	hm, clock := newTestManager(DefaultConfig())
	endpoint := "http://a"

	hm.RecordFailure(endpoint)
	clock.advance(2 * time.Minute)
	hm.RecordFailure(endpoint)

	assert.True(t, hm.IsHealthy(endpoint))
	health, _ := hm.Snapshot(endpoint)
	assert.Equal(t, 1, health.FailureCount)
}

func TestCircuitBreakerHooks(t *testing.T) {
	hm, _ := newTestManager(DefaultConfig())
	obs := &recordingObsLogger{}
	hm.SetObservabilityLogger(obs)

	var failed []string
	hm.OnFailure(func(endpoint string) { failed = append(failed, endpoint) })

	hm.RecordFailure("http://a")
	hm.RecordFailure("http://a")
	hm.RecordSuccess("http://a")

	assert.Equal(t, []string{"http://a", "http://a"}, failed)
	require.Len(t, obs.events, 3)
	assert.Equal(t, recordedEvent{"info", "Endpoint failure recorded"}, obs.events[0])
	assert.Equal(t, recordedEvent{"warn", "Circuit breaker opened"}, obs.events[1])
	assert.Equal(t, recordedEvent{"info", "Circuit breaker closed"}, obs.events[2])
}

func TestSelectHealthyEndpoint(t *testing.T) {
	hm, _ := newTestManager(DefaultConfig())
	endpoints := []string{"http://a", "http://b", "http://c"}
	index := 0

	assert.Equal(t, "http://a", hm.SelectHealthyEndpoint(endpoints, &index))
	assert.Equal(t, "http://b", hm.SelectHealthyEndpoint(endpoints, &index))

	hm.RecordFailure("http://c")
	hm.RecordFailure("http://c")
	assert.Equal(t, "http://a", hm.SelectHealthyEndpoint(endpoints, &index))

	assert.Equal(t, "", hm.SelectHealthyEndpoint(nil, &index))
}

func TestSelectHealthyEndpointFallsBackWhenAllOpen(t *testing.T) {
	hm, _ := newTestManager(Config{FailureThreshold: 1, BackoffDuration: time.Minute, MaxBackoffDuration: time.Minute})
	endpoints := []string{"http://a", "http://b"}
	for _, e := range endpoints {
		hm.RecordFailure(e)
	}

	index := 5
	assert.Equal(t, "http://a", hm.SelectHealthyEndpoint(endpoints, &index))
}

func TestRankBySuccess(t *testing.T) {
	hm, _ := newTestManager(Config{FailureThreshold: 3, BackoffDuration: time.Minute, MaxBackoffDuration: time.Minute})
	endpoints := []string{"http://flaky", "http://down", "http://good", "http://new"}

	hm.RecordSuccess("http://flaky")
	hm.RecordFailure("http://flaky")
	hm.RecordSuccess("http://good")
	for i := 0; i < 3; i++ {
		hm.RecordFailure("http://down")
	}

	ranked := hm.RankBySuccess(endpoints)

	assert.Equal(t, []string{"http://good", "http://flaky", "http://new", "http://down"}, ranked)
	assert.Equal(t, "http://flaky", endpoints[0], "input must not be reordered")
}

func TestCalculateSuccessRate(t *testing.T) {
	hm, _ := newTestManager(DefaultConfig())
	assert.Equal(t, 0.5, hm.CalculateSuccessRate("http://unknown"))

	hm.RecordSuccess("http://a")
	hm.RecordSuccess("http://a")
	hm.RecordSuccess("http://a")
	hm.RecordFailure("http://a")
	assert.Equal(t, 0.75, hm.CalculateSuccessRate("http://a"))
	assert.Len(t, hm.Snapshots(), 1)
}
