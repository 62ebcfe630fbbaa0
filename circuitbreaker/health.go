package circuitbreaker

import (
	"sync"
	"time"
)

// EndpointHealth tracks the health status of an endpoint
type EndpointHealth struct {
	URL             string    `json:"url"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	TotalRequests   int       `json:"total_requests"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`
	CircuitOpen     bool      `json:"circuit_open"`
	NextRetryTime   time.Time `json:"next_retry_time"`
}

// Config controls circuit breaker behavior
type Config struct {
	FailureThreshold   int           `json:"failure_threshold"`    // Number of failures before opening circuit
	BackoffDuration    time.Duration `json:"backoff_duration"`     // How long to wait before retrying failed endpoint
	MaxBackoffDuration time.Duration `json:"max_backoff_duration"` // Maximum backoff time
	ResetTimeout       time.Duration `json:"reset_timeout"`        // Quiet period after which stale failures are forgotten
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
		ResetTimeout:       1 * time.Minute,
	}
}

// ObservabilityLogger is the structured sink for circuit breaker events
type ObservabilityLogger interface {
	Info(component, category, requestID, message string, fields map[string]interface{})
	Warn(component, category, requestID, message string, fields map[string]interface{})
	Error(component, category, requestID, message string, fields map[string]interface{})
}

// HealthManager manages endpoint health tracking
type HealthManager struct {
	config      Config
	healthMap   map[string]*EndpointHealth
	healthMutex sync.RWMutex
	obsLogger   ObservabilityLogger
	onFailure   func(endpoint string)
	now         func() time.Time
}

// NewHealthManager creates a new health manager
func NewHealthManager(config Config) *HealthManager {
	return &HealthManager{
		config:    config,
		healthMap: make(map[string]*EndpointHealth),
		now:       time.Now,
	}
}

// SetObservabilityLogger sets the observability logger for structured logging
func (hm *HealthManager) SetObservabilityLogger(obsLogger ObservabilityLogger) {
	hm.obsLogger = obsLogger
}

// OnFailure registers a callback run after every recorded failure, outside the lock
func (hm *HealthManager) OnFailure(fn func(endpoint string)) {
	hm.onFailure = fn
}

// InitializeEndpoints initializes health tracking for all endpoints
func (hm *HealthManager) InitializeEndpoints(endpoints []string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	for _, endpoint := range endpoints {
		if _, exists := hm.healthMap[endpoint]; !exists {
			hm.healthMap[endpoint] = &EndpointHealth{URL: endpoint}
		}
	}
}

// IsHealthy checks if an endpoint is available (circuit closed or backoff elapsed)
func (hm *HealthManager) IsHealthy(endpoint string) bool {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		return true // Unknown endpoints are assumed healthy
	}

	if health.CircuitOpen {
		return hm.now().After(health.NextRetryTime)
	}
	return true
}

// Snapshot returns a copy of the health of an endpoint
func (hm *HealthManager) Snapshot(endpoint string) (EndpointHealth, bool) {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		return EndpointHealth{}, false
	}
	return *health, true
}

// Snapshots returns the health of every tracked endpoint, for the health endpoint
func (hm *HealthManager) Snapshots() []EndpointHealth {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	out := make([]EndpointHealth, 0, len(hm.healthMap))
	for _, health := range hm.healthMap {
		out = append(out, *health)
	}
	return out
}

// CalculateSuccessRate calculates the success rate for an endpoint
func (hm *HealthManager) CalculateSuccessRate(endpoint string) float64 {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists || health.TotalRequests == 0 {
		return 0.5 // Default neutral rate for new endpoints
	}

	return float64(health.SuccessCount) / float64(health.TotalRequests)
}
