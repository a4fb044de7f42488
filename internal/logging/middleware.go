package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0xReLogic/hellomongo/internal/config"
)

// RequestContextMiddleware injects request/trace identifiers into the request context.
func RequestContextMiddleware(cfg config.LoggingConfig) func(http.Handler) http.Handler {
	requestHeader := RequestHeaderName(cfg)
	traceHeader := TraceHeaderName(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var requestID string
			if cfg.RequestID.Enabled {
				requestID = strings.TrimSpace(r.Header.Get(requestHeader))
				if requestID == "" {
					requestID = uuid.NewString()
					r.Header.Set(requestHeader, requestID)
				}
				w.Header().Set(requestHeader, requestID)
			}

			var traceID string
			if cfg.Trace.Enabled {
				traceID = strings.TrimSpace(r.Header.Get(traceHeader))
				if traceID == "" {
					traceID = uuid.NewString()
					r.Header.Set(traceHeader, traceID)
				}
				w.Header().Set(traceHeader, traceID)
			}

			logger := WithContext(ctx)
			if requestID != "" {
				logger = logger.With().Str("request_id", requestID).Logger()
			}
			if traceID != "" {
				logger = logger.With().Str("trace_id", traceID).Logger()
			}

			ctx = contextWithLogger(ctx, logger, requestID, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder records the response status
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wroteHeader {
		return
	}
	sr.status = code
	sr.wroteHeader = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wroteHeader {
		sr.WriteHeader(http.StatusOK)
	}
	return sr.ResponseWriter.Write(b)
}

// Flush passes through to the underlying writer when it supports it.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLogMiddleware logs method, path, status and latency of every request.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
		logger := WithContext(r.Context())
		event := logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Float64("latency_ms", latencyMs).
			Msg("request served")
	})
}
