package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests no route matched, so scanners cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

// HTTPMetrics records request latency and count labelled by chi route pattern.
// It must be mounted on a chi router.
func HTTPMetrics(duration *prometheus.HistogramVec, total *prometheus.CounterVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			total.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		})
	}
}
