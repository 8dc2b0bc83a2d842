package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentbank",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbank",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentbank",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	queueClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbank",
			Subsystem: "queue",
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		},
		[]string{"outcome"},
	)

	queueReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbank",
			Subsystem: "queue",
			Name:      "released_total",
			Help:      "Operations returned to the queue.",
		},
		[]string{"reason"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbank",
			Subsystem: "operations",
			Name:      "settlements_total",
			Help:      "Settled operations by decision and outcome.",
		},
		[]string{"decision", "outcome"},
	)

	commissionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentbank",
			Subsystem: "commissions",
			Name:      "accrued_total",
			Help:      "Sum of accrued commission in minor-unit precision.",
		},
	)

	ticketTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbank",
			Subsystem: "tickets",
			Name:      "transitions_total",
			Help:      "Ticket lifecycle transitions.",
		},
		[]string{"type", "status"},
	)

	reaperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentbank",
			Subsystem: "queue",
			Name:      "reaper_run_duration_seconds",
			Help:      "Duration of stale claim reaper runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		queueClaims,
		queueReleased,
		settlements,
		commissionTotal,
		ticketTransitions,
		reaperDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// pathOf maps a request to a bounded label; nil uses the first path segment.
func InstrumentHandler(next http.Handler, pathOf func(*http.Request) string) http.Handler {
	if pathOf == nil {
		pathOf = func(r *http.Request) string { return canonicalPath(r.URL.Path) }
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := pathOf(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordClaim counts a claim attempt: "claimed", "empty", "lost" or "error".
func RecordClaim(outcome string) {
	queueClaims.WithLabelValues(outcome).Inc()
}

// RecordRelease counts operations returned to pending.
func RecordRelease(reason string, n int) {
	if n <= 0 {
		return
	}
	queueReleased.WithLabelValues(reason).Add(float64(n))
}

// RecordSettlement counts a settle call.
func RecordSettlement(decision string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	settlements.WithLabelValues(decision, outcome).Inc()
}

// RecordCommission adds an accrued commission total.
func RecordCommission(total float64) {
	if total > 0 {
		commissionTotal.Add(total)
	}
}

// RecordTicket counts a ticket transition.
func RecordTicket(ticketType, status string) {
	ticketTransitions.WithLabelValues(ticketType, status).Inc()
}

// ObserveReaper records the duration of a reaper run.
func ObserveReaper(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	reaperDuration.Observe(duration.Seconds())
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

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "rpc" {
		return "/rpc/" + parts[1]
	}
	return "/" + parts[0]
}
