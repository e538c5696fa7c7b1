// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsListedTotal           *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	errorsTotal                *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	sinkFailuresTotal          *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitWaitSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsListedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_items_listed_total",
				Help: "Items yielded by source listings.",
			},
			[]string{"source"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Records persisted, labeled by source.",
			},
			[]string{"source"},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_errors_total",
				Help: "Recorded pipeline errors, labeled by source and stage.",
			},
			[]string{"source", "stage"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_attempts_total",
				Help: "Outbound request attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		sinkFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_sink_failures_total",
				Help: "Secondary sink append failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Workers currently busy, labeled by phase.",
			},
			[]string{"phase"},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_wait_seconds",
				Help:    "Time spent blocked on the shared rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveListed counts one listed item.
func ObserveListed(source string) {
	Init()
	itemsListedTotal.WithLabelValues(source).Inc()
}

// ObserveRecord counts one persisted record.
func ObserveRecord(source string) {
	Init()
	recordsTotal.WithLabelValues(source).Inc()
}

// ObserveError counts one recorded error.
func ObserveError(source, stage string) {
	Init()
	errorsTotal.WithLabelValues(source, stage).Inc()
}

// ObserveFetchAttempt counts one request attempt against rawURL's host.
func ObserveFetchAttempt(rawURL, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveSinkFailure counts one failed secondary sink append.
func ObserveSinkFailure(sink string) {
	Init()
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

// WorkerStarted marks a worker of phase busy.
func WorkerStarted(phase string) {
	Init()
	activeWorkers.WithLabelValues(phase).Inc()
}

// WorkerDone marks a worker of phase idle.
func WorkerDone(phase string) {
	Init()
	activeWorkers.WithLabelValues(phase).Dec()
}

// ObserveRateLimitWait records time spent blocked on the limiter.
func ObserveRateLimitWait(d time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
