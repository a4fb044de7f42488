// Package greeting serves the public listener: a single static route.
package greeting

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/0xReLogic/hellomongo/internal/config"
	"github.com/0xReLogic/hellomongo/internal/logging"
	"github.com/0xReLogic/hellomongo/internal/metrics"
)

// Message is the fixed body returned on GET /.
const Message = "Hello from Go + MongoDB!"

// Handler writes the greeting. It never touches the database.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Message))
}

// NewRouter builds the public router. Unknown paths and unsupported methods
// on / both get a plain 404. mc may be nil.
func NewRouter(logCfg config.LoggingConfig, mc *metrics.MetricsCollector) http.Handler {
	r := chi.NewRouter()

	r.Use(logging.RequestContextMiddleware(logCfg))
	r.Use(logging.AccessLogMiddleware)
	if mc != nil {
		r.Use(mc.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.NotFound(http.NotFound)
	r.MethodNotAllowed(http.NotFound)

	r.Get("/", Handler)

	return r
}
