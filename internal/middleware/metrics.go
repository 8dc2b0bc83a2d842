package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/agentbank/internal/app/metrics"
)

// MetricsMiddleware records HTTP metrics labelled by route template.
func MetricsMiddleware(next http.Handler) http.Handler {
	return metrics.InstrumentHandler(next, routePath)
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
