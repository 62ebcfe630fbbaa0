package circuitbreaker

import (
	"time"

	"github.com/sirupsen/logrus"
)

const component = "circuit_breaker"

// RecordFailure marks an endpoint as failed and potentially opens its circuit
func (hm *HealthManager) RecordFailure(endpoint string) {
	hm.healthMutex.Lock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		hm.healthMap[endpoint] = health
	}

	now := hm.now()
	// failures separated by a long quiet period do not accumulate
	if hm.config.ResetTimeout > 0 && !health.CircuitOpen && health.FailureCount > 0 &&
		now.Sub(health.LastFailureTime) > hm.config.ResetTimeout {
		health.FailureCount = 0
	}

	health.FailureCount++
	health.TotalRequests++
	health.LastFailureTime = now

	opened := false
	var backoff time.Duration
	if health.FailureCount >= hm.config.FailureThreshold {
		opened = true
		health.CircuitOpen = true

		// Exponential backoff capped at max
		failuresOverThreshold := health.FailureCount - hm.config.FailureThreshold
		backoff = hm.config.BackoffDuration
		for i := 0; i < failuresOverThreshold && backoff < hm.config.MaxBackoffDuration; i++ {
			backoff *= 2
		}
		if backoff > hm.config.MaxBackoffDuration {
			backoff = hm.config.MaxBackoffDuration
		}
		health.NextRetryTime = now.Add(backoff)
	}
	failures := health.FailureCount
	hm.healthMutex.Unlock()

	fields := map[string]interface{}{"endpoint": endpoint, "failures": failures}
	if opened {
		logrus.WithFields(logrus.Fields{"component": component, "endpoint": endpoint}).
			Warnf("🚨 Circuit breaker opened for endpoint %s (failures: %d, retry in: %v)", endpoint, failures, backoff)
		if hm.obsLogger != nil {
			fields["retry_in"] = backoff.String()
			hm.obsLogger.Warn(component, "health", "", "Circuit breaker opened", fields)
		}
	} else {
		logrus.WithFields(logrus.Fields{"component": component, "endpoint": endpoint}).
			Warnf("⚠️ Endpoint failure recorded: %s (failures: %d/%d)", endpoint, failures, hm.config.FailureThreshold)
		if hm.obsLogger != nil {
			hm.obsLogger.Info(component, "health", "", "Endpoint failure recorded", fields)
		}
	}

	if hm.onFailure != nil {
		hm.onFailure(endpoint)
	}
}

// RecordSuccess marks an endpoint as successful and closes its circuit
func (hm *HealthManager) RecordSuccess(endpoint string) {
	hm.healthMutex.Lock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		hm.healthMap[endpoint] = health
	}

	health.SuccessCount++
	health.TotalRequests++
	health.LastSuccessTime = hm.now()

	wasOpen := health.CircuitOpen
	hadFailures := health.FailureCount > 0
	health.CircuitOpen = false
	health.FailureCount = 0
	health.NextRetryTime = time.Time{}
	hm.healthMutex.Unlock()

	if wasOpen {
		logrus.WithField("component", component).Infof("✅ Circuit breaker closed for endpoint %s (recovered)", endpoint)
		if hm.obsLogger != nil {
			hm.obsLogger.Info(component, "health", "", "Circuit breaker closed", map[string]interface{}{"endpoint": endpoint})
		}
	} else if hadFailures {
		logrus.WithField("component", component).Infof("✅ Endpoint recovered: %s (failure count reset)", endpoint)
	}
}

// SelectHealthyEndpoint returns the next healthy endpoint from a list, advancing
// currentIndex round-robin. When every circuit is open the next endpoint is
// returned anyway as a last resort.
func (hm *HealthManager) SelectHealthyEndpoint(endpoints []string, currentIndex *int) string {
	if len(endpoints) == 0 {
		return ""
	}
	if *currentIndex < 0 || *currentIndex >= len(endpoints) {
		*currentIndex = 0
	}

	for attempts := 0; attempts < len(endpoints); attempts++ {
		endpoint := endpoints[*currentIndex]
		*currentIndex = (*currentIndex + 1) % len(endpoints)

		if hm.IsHealthy(endpoint) {
			return endpoint
		}
		if health, ok := hm.Snapshot(endpoint); ok {
			logrus.WithField("component", component).Debugf("⚠️ Skipping unhealthy endpoint: %s (failures: %d, retry: %v)",
				endpoint, health.FailureCount, health.NextRetryTime.Format(time.RFC3339))
		}
	}

	endpoint := endpoints[*currentIndex]
	*currentIndex = (*currentIndex + 1) % len(endpoints)
	logrus.WithField("component", component).Warnf("⚠️ No healthy endpoints found, using fallback: %s", endpoint)
	if hm.obsLogger != nil {
		hm.obsLogger.Error(component, "failover", "", "No healthy endpoints, using fallback", map[string]interface{}{"endpoint": endpoint})
	}
	return endpoint
}
