// Package metrics holds the framework's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the framework collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ceres",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ceres",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	httpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Errors handled by the error responder, by classified status.",
		},
		[]string{"status"},
	)

	routesCompiled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ceres",
			Subsystem: "router",
			Name:      "routes",
			Help:      "Number of compiled routes per controller.",
		},
		[]string{"controller"},
	)

	workersLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ceres",
			Subsystem: "topology",
			Name:      "workers",
			Help:      "Number of live worker processes.",
		},
		[]string{"strategy"},
	)

	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "topology",
			Name:      "worker_exits_total",
			Help:      "Worker process exits by outcome.",
		},
		[]string{"strategy", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		httpErrors,
		routesCompiled,
		workersLive,
		workerExits,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(metricsPath string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.Inc()
			defer httpInFlight.Dec()

			next.ServeHTTP(rec, r)

			route := routeTemplate(r)
			method := strings.ToUpper(r.Method)
			httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
			httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RecordError counts an error handled by the error responder.
func RecordError(status int) {
	httpErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

// SetRoutes records the number of compiled routes for a controller.
func SetRoutes(controller string, n int) {
	routesCompiled.WithLabelValues(controller).Set(float64(n))
}

// SetWorkers records the number of live workers.
func SetWorkers(strategy string, n int) {
	workersLive.WithLabelValues(strategy).Set(float64(n))
}

// RecordWorkerExit counts a worker exit. outcome is "restarted", "stopped" or "abandoned".
func RecordWorkerExit(strategy, outcome string) {
	workerExits.WithLabelValues(strategy, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// routeTemplate keeps label cardinality bounded by using the mux template.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
