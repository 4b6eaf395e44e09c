package httpapi

import (
	"expvar"
	"log"
	"net/http"
	"time"
)

var (
	requestsTotal     = expvar.NewInt("requests_total")
	requestsErrors    = expvar.NewInt("requests_errors_total")
	statusClassCounts = expvar.NewMap("requests_by_status_class")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request and updates the expvar
// counters exposed at /metrics. No handler reads a business id from a
// request header the way a multi-tenant header-keyed logger would —
// handlers take businessId from a request's JSON body or query string (only
// the rate limiter consults an optional X-Business-ID header, as a bucket
// key) — so the actor logged here is the principal AuthMiddleware already
// resolved and stored on the request context, not a guessed header value.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)

		requestsTotal.Add(1)
		statusClassCounts.Add(statusClass(writer.status), 1)
		if writer.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		}

		actor := "anonymous"
		if p, ok := principalFromContext(r.Context()); ok {
			actor = p.ID
		}
		log.Printf("request method=%s path=%s status=%d duration_ms=%d actor=%s", r.Method, r.URL.Path, writer.status, duration.Milliseconds(), actor)
	})
}

func statusClass(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "5xx"
	case status >= http.StatusBadRequest:
		return "4xx"
	case status >= http.StatusMultipleChoices:
		return "3xx"
	default:
		return "2xx"
	}
}
