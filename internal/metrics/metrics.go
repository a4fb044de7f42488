package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// Metrics holds all the metrics for the service
type Metrics struct {
	// Request metrics
	TotalRequests      uint64 `json:"total_requests"`
	SuccessfulRequests uint64 `json:"successful_requests"`
	FailedRequests     uint64 `json:"failed_requests"`

	// Response time metrics
	TotalResponseTime   uint64  `json:"total_response_time_ms"`
	AverageResponseTime float64 `json:"average_response_time_ms"`

	// Per-route metrics keyed by "METHOD pattern"
	RouteMetrics map[string]*RouteMetrics `json:"route_metrics"`

	Database DatabaseMetrics `json:"database"`

	// Circuit breaker metrics
	CircuitBreakerMetrics map[string]*CircuitBreakerMetrics `json:"circuit_breaker_metrics"`

	// System metrics
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
}

// RouteMetrics holds metrics for a single route
type RouteMetrics struct {
	Route               string         `json:"route"`
	TotalRequests       uint64         `json:"total_requests"`
	TotalResponseTime   uint64         `json:"total_response_time_ms"`
	AverageResponseTime float64        `json:"average_response_time_ms"`
	StatusCounts        map[int]uint64 `json:"status_counts"`
}

// DatabaseMetrics describes the outbound database connection
type DatabaseMetrics struct {
	State           string    `json:"state"`
	ConnectAttempts uint64    `json:"connect_attempts"`
	LastError       string    `json:"last_error,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}

// CircuitBreakerMetrics holds metrics for circuit breakers
type CircuitBreakerMetrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    uint32    `json:"failure_count"`
	SuccessCount    uint32    `json:"success_count"`
	RequestCount    uint32    `json:"request_count"`
	LastStateChange time.Time `json:"last_state_change"`
}

// MetricsCollector manages metrics collection
type MetricsCollector struct {
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64
	totalResponseTime  atomic.Uint64

	mutex           sync.RWMutex
	routes          map[string]*RouteMetrics
	database        DatabaseMetrics
	circuitBreakers map[string]*CircuitBreakerMetrics
	startTime       time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		routes:          make(map[string]*RouteMetrics),
		circuitBreakers: make(map[string]*CircuitBreakerMetrics),
		database:        DatabaseMetrics{State: "unknown"},
		startTime:       time.Now(),
	}
}

// RecordRequest records a served request. Responses below 500 count as successful.
func (mc *MetricsCollector) RecordRequest(route string, status int, responseTime time.Duration) {
	responseTimeMs := uint64(responseTime.Milliseconds())

	mc.totalRequests.Add(1)
	if status < http.StatusInternalServerError {
		mc.successfulRequests.Add(1)
	} else {
		mc.failedRequests.Add(1)
	}
	mc.totalResponseTime.Add(responseTimeMs)

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	rm, exists := mc.routes[route]
	if !exists {
		rm = &RouteMetrics{Route: route, StatusCounts: make(map[int]uint64)}
		mc.routes[route] = rm
	}
	rm.TotalRequests++
	rm.TotalResponseTime += responseTimeMs
	rm.AverageResponseTime = float64(rm.TotalResponseTime) / float64(rm.TotalRequests)
	rm.StatusCounts[status]++
}

// RecordConnectAttempt counts one database connect attempt.
func (mc *MetricsCollector) RecordConnectAttempt() {
	mc.mutex.Lock()
	mc.database.ConnectAttempts++
	mc.mutex.Unlock()
}

// UpdateDatabaseState records a database connection state transition.
func (mc *MetricsCollector) UpdateDatabaseState(state string, err error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.database.State != state {
		mc.database.LastStateChange = time.Now()
	}
	mc.database.State = state
	if err != nil {
		mc.database.LastError = err.Error()
	}
}

// UpdateCircuitBreakerState updates the state of a circuit breaker
func (mc *MetricsCollector) UpdateCircuitBreakerState(name, state string, failureCount, successCount, requestCount uint32) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	cb, exists := mc.circuitBreakers[name]
	if !exists {
		cb = &CircuitBreakerMetrics{Name: name}
		mc.circuitBreakers[name] = cb
	}

	if cb.State != state {
		cb.LastStateChange = time.Now()
	}

	cb.State = state
	cb.FailureCount = failureCount
	cb.SuccessCount = successCount
	cb.RequestCount = requestCount
}

// GetMetrics returns a copy of current metrics
func (mc *MetricsCollector) GetMetrics() *Metrics {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	m := &Metrics{
		TotalRequests:         mc.totalRequests.Load(),
		SuccessfulRequests:    mc.successfulRequests.Load(),
		FailedRequests:        mc.failedRequests.Load(),
		TotalResponseTime:     mc.totalResponseTime.Load(),
		RouteMetrics:          make(map[string]*RouteMetrics, len(mc.routes)),
		Database:              mc.database,
		CircuitBreakerMetrics: make(map[string]*CircuitBreakerMetrics, len(mc.circuitBreakers)),
		StartTime:             mc.startTime,
		Uptime:                time.Since(mc.startTime).String(),
	}
	if m.TotalRequests > 0 {
		m.AverageResponseTime = float64(m.TotalResponseTime) / float64(m.TotalRequests)
	}

	for name, rm := range mc.routes {
		statusCounts := make(map[int]uint64, len(rm.StatusCounts))
		for code, n := range rm.StatusCounts {
			statusCounts[code] = n
		}
		m.RouteMetrics[name] = &RouteMetrics{
			Route:               rm.Route,
			TotalRequests:       rm.TotalRequests,
			TotalResponseTime:   rm.TotalResponseTime,
			AverageResponseTime: rm.AverageResponseTime,
			StatusCounts:        statusCounts,
		}
	}

	for name, cb := range mc.circuitBreakers {
		cbCopy := *cb
		m.CircuitBreakerMetrics[name] = &cbCopy
	}

	return m
}

// statusWriter captures the response status for RecordRequest.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

// Middleware records every request passing through a chi router. Requests
// that match no route are grouped under "unmatched".
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" && status != http.StatusNotFound {
				route = r.Method + " " + pattern
			}
		}
		mc.RecordRequest(route, status, time.Since(start))
	})
}

// MetricsHandler returns an HTTP handler for the metrics endpoint
func (mc *MetricsCollector) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := json.MarshalIndent(mc.GetMetrics(), "", "  ")
		if err != nil {
			http.Error(w, "Failed to encode metrics", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}
