package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// selfObserved lists paths whose traffic is scrape/probe noise, excluded from
// the request metrics.
var selfObserved = map[string]bool{
	"/metrics": true,
	"/healthz": true,
}

// MetricsMiddleware records request counts and latencies per route pattern.
// The chi wrapper keeps the ResponseWriter hijackable, which the events
// websocket needs.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if selfObserved[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		APIActiveConnections.Inc()
		defer APIActiveConnections.Dec()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			// Hijacked or nothing written.
			status = http.StatusOK
		}
		code := strconv.Itoa(status)

		APIRequestDuration.WithLabelValues(r.Method, endpoint, code).Observe(time.Since(start).Seconds())
		APIRequestsTotal.WithLabelValues(r.Method, endpoint, code).Inc()
	})
}
