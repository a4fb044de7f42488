package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordRequest("GET /", http.StatusOK, 100*time.Millisecond)
	mc.RecordRequest("GET /", http.StatusInternalServerError, 200*time.Millisecond)

	metrics := mc.GetMetrics()

	if metrics.TotalRequests != 2 {
		t.Errorf("Expected 2 total requests, got %d", metrics.TotalRequests)
	}
	if metrics.SuccessfulRequests != 1 {
		t.Errorf("Expected 1 successful request, got %d", metrics.SuccessfulRequests)
	}
	if metrics.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", metrics.FailedRequests)
	}

	expectedAvg := (100.0 + 200.0) / 2.0
	if metrics.AverageResponseTime != expectedAvg {
		t.Errorf("Expected average response time %.1f, got %.1f", expectedAvg, metrics.AverageResponseTime)
	}

	route, ok := metrics.RouteMetrics["GET /"]
	if !ok {
		t.Fatal("GET / metrics should exist")
	}
	if route.TotalRequests != 2 || route.StatusCounts[http.StatusOK] != 1 || route.StatusCounts[http.StatusInternalServerError] != 1 {
		t.Errorf("unexpected route metrics %+v", route)
	}
}

func TestGetMetricsReturnsCopy(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordRequest("GET /", http.StatusOK, time.Millisecond)

	snapshot := mc.GetMetrics()
	snapshot.RouteMetrics["GET /"].StatusCounts[http.StatusOK] = 99

	if got := mc.GetMetrics().RouteMetrics["GET /"].StatusCounts[http.StatusOK]; got != 1 {
		t.Errorf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestDatabaseMetrics(t *testing.T) {
	mc := NewMetricsCollector()

	if got := mc.GetMetrics().Database.State; got != "unknown" {
		t.Errorf("Expected initial state unknown, got %q", got)
	}

	mc.RecordConnectAttempt()
	mc.UpdateDatabaseState("pending", nil)
	mc.UpdateDatabaseState("failed", errors.New("server selection timeout"))

	db := mc.GetMetrics().Database
	if db.State != "failed" {
		t.Errorf("Expected state failed, got %q", db.State)
	}
	if db.ConnectAttempts != 1 {
		t.Errorf("Expected 1 connect attempt, got %d", db.ConnectAttempts)
	}
	if db.LastError != "server selection timeout" {
		t.Errorf("unexpected last error %q", db.LastError)
	}
	if db.LastStateChange.IsZero() {
		t.Error("Expected last state change to be set")
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	mc := NewMetricsCollector()

	mc.UpdateCircuitBreakerState("mongo-ready", "CLOSED", 0, 0, 0)
	mc.UpdateCircuitBreakerState("mongo-ready", "OPEN", 5, 0, 0)

	cb, ok := mc.GetMetrics().CircuitBreakerMetrics["mongo-ready"]
	if !ok {
		t.Fatal("circuit breaker metrics should exist")
	}
	if cb.State != "OPEN" || cb.FailureCount != 5 {
		t.Errorf("unexpected breaker metrics %+v", cb)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	mc := NewMetricsCollector()

	r := chi.NewRouter()
	r.Use(mc.Middleware)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	})

	for _, path := range []string{"/", "/", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	m := mc.GetMetrics()
	if m.TotalRequests != 3 {
		t.Fatalf("Expected 3 requests, got %d", m.TotalRequests)
	}
	if got := m.RouteMetrics["GET /"]; got == nil || got.TotalRequests != 2 {
		t.Errorf("Expected 2 requests on GET /, got %+v", got)
	}
	if got := m.RouteMetrics["unmatched"]; got == nil || got.StatusCounts[http.StatusNotFound] != 1 {
		t.Errorf("Expected 1 unmatched 404, got %+v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordRequest("GET /", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	mc.MetricsHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var body Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid metrics json: %v", err)
	}
	if body.TotalRequests != 1 {
		t.Errorf("Expected 1 total request, got %d", body.TotalRequests)
	}
}
