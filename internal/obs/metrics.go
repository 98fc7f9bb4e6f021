package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Ledger metrics.
var (
	ledgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certledger_calls_total",
			Help: "Ledger calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	storageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "certledger_storage_bytes",
		Help: "Bytes of metered contract state.",
	})

	payoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certledger_payouts_total",
			Help: "Withdrawal payouts by status.",
		},
		[]string{"status"},
	)

	internalFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certledger_internal_faults_total",
		Help: "Corrupt state detected while serving calls.",
	})
)

var initOnce sync.Once

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ledgerCalls, storageBytes, payoutsTotal, internalFaults,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCall counts a finished ledger call. outcome is "ok" or an error kind.
func ObserveCall(op, outcome string) {
	ledgerCalls.WithLabelValues(op, outcome).Inc()
}

// SetStorageBytes publishes the current metered storage usage.
func SetStorageBytes(n int64) {
	storageBytes.Set(float64(n))
}

// ObservePayout counts a payout state change.
func ObservePayout(status string) {
	payoutsTotal.WithLabelValues(status).Inc()
}

// InternalFault counts a corrupt-state detection.
func InternalFault() {
	internalFaults.Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in known routes so metric labels stay bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return p
	}
	switch parts[1] {
	case "certs":
		switch {
		case len(parts) == 3:
			return "/v1/certs/:id"
		case len(parts) == 4 && (parts[3] == "valid" || parts[3] == "invalidate" || parts[3] == "transfer"):
			return "/v1/certs/:id/" + parts[3]
		}
	case "accounts":
		if len(parts) == 4 && (parts[3] == "certs" || parts[3] == "invalidate") {
			return "/v1/accounts/:account/" + parts[3]
		}
	case "issuers":
		if len(parts) == 3 {
			return "/v1/issuers/:account"
		}
	case "payouts":
		if len(parts) == 3 {
			return "/v1/payouts/:id"
		}
	}
	return p
}

// statusWriter запоминает код ответа для метрик.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
