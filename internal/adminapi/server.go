// Package adminapi serves the opt-in operations listener: liveness,
// database readiness and the metrics snapshot.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/0xReLogic/hellomongo/internal/circuitbreaker"
	"github.com/0xReLogic/hellomongo/internal/config"
	"github.com/0xReLogic/hellomongo/internal/database"
	"github.com/0xReLogic/hellomongo/internal/logging"
	"github.com/0xReLogic/hellomongo/internal/metrics"
)

// ReadinessBreakerName identifies the readiness breaker in the metrics snapshot.
const ReadinessBreakerName = "mongo-ready"

const readyPingTimeout = 2 * time.Second

// Database is the part of database.Handle the operations API needs.
type Database interface {
	Ping(ctx context.Context) error
	State() database.State
}

// NewMux creates an HTTP handler for the Admin API
func NewMux(cfg config.AdminAPIConfig, db Database, mc *metrics.MetricsCollector) (http.Handler, error) {
	filter, err := NewIPFilter(cfg.AllowList, cfg.DenyList)
	if err != nil {
		return nil, fmt.Errorf("admin api ip filter: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:             ReadinessBreakerName,
		FailureThreshold: 3,
		Timeout:          10 * time.Second,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger := logging.L()
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("readiness circuit breaker state changed")
		},
	})
	recordBreaker(mc, breaker)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(filter.Middleware)
	r.Use(middleware.Recoverer)

	// Health endpoint (no auth)
	r.Get("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/ready", readyHandler(db, breaker, mc))

	// Metrics endpoint (auth if token set)
	r.With(bearerAuth(cfg.AuthToken)).Get("/v1/metrics", mc.MetricsHandler())

	logger := logging.L()
	logger.Info().Msg("admin api mux initialized")
	return r, nil
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") || strings.TrimPrefix(authz, "Bearer ") != token {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type readyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// readyHandler pings the database through the breaker, so an unreachable
// server is not probed on every request.
func readyHandler(db Database, breaker *circuitbreaker.CircuitBreaker, mc *metrics.MetricsCollector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := breaker.Execute(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
			defer cancel()
			return db.Ping(ctx)
		})
		recordBreaker(mc, breaker)

		resp := readyResponse{Status: "ready", Database: db.State().String()}
		if err != nil {
			resp.Status = "not_ready"
			resp.Error = err.Error()
			logger := logging.WithContext(r.Context())
			logger.Debug().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func recordBreaker(mc *metrics.MetricsCollector, breaker *circuitbreaker.CircuitBreaker) {
	counts := breaker.Counts()
	mc.UpdateCircuitBreakerState(breaker.Name(), breaker.State().String(), counts.Failures, counts.Successes, counts.Requests)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
