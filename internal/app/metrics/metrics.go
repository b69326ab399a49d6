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
			Namespace: "surety_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surety_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "surety_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	oracleResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surety_layer",
			Subsystem: "oracle",
			Name:      "responses_total",
			Help:      "Total number of accepted oracle responses.",
		},
		[]string{"status"},
	)

	roundsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surety_layer",
			Subsystem: "oracle",
			Name:      "rounds_finalized_total",
			Help:      "Total number of flight-resolution rounds finalized.",
		},
		[]string{"status"},
	)

	policiesPurchased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "surety_layer",
			Subsystem: "insurance",
			Name:      "policies_total",
			Help:      "Total number of insurance policies purchased.",
		},
	)

	creditsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "surety_layer",
			Subsystem: "insurance",
			Name:      "credits_issued_total",
			Help:      "Total payout amount credited to passengers, in raw units.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		oracleResponses,
		roundsFinalized,
		policiesPurchased,
		creditsIssued,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOracleResponse counts an accepted oracle response.
func RecordOracleResponse(status string) {
	oracleResponses.WithLabelValues(status).Inc()
}

// RecordRoundFinalized counts a finalized flight-resolution round.
func RecordRoundFinalized(status string) {
	roundsFinalized.WithLabelValues(status).Inc()
}

// RecordPolicyPurchase counts a purchased policy.
func RecordPolicyPurchase() {
	policiesPurchased.Inc()
}

// RecordCredit accumulates issued payout amounts.
func RecordCredit(amount uint64) {
	creditsIssued.Add(float64(amount))
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
	switch parts[0] {
	case "airlines", "flights", "oracles", "passengers":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[len(parts)-1]
	}
	return "/" + parts[0]
}
