// Package metrics exposes Prometheus collectors for the ingestion service.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	admissionWaitSeconds       *prometheus.HistogramVec
	recordsTotal               *prometheus.CounterVec
	crawlsTotal                *prometheus.CounterVec
	activePipelines            prometheus.Gauge
	sideEffectFailuresTotal    *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_attempts_total",
				Help: "Total number of outbound fetch attempts, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_bytes_total",
				Help: "Total number of response bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		admissionWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_admission_wait_seconds",
				Help:    "Histogram of time spent waiting for a per-host admission slot.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Total number of records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_crawls_total",
				Help: "Total number of crawl invocations, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		activePipelines = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_pipelines",
				Help: "Number of record pipelines currently in flight.",
			},
		)

		sideEffectFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_side_effect_failures_total",
				Help: "Failures of archive and notification side effects, labeled by kind.",
			},
			[]string{"kind"},
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

// ObserveFetchAttempt records one outbound attempt and its response size.
func ObserveFetchAttempt(host, outcome string, bytesFetched int) {
	Init()
	fetchAttemptsTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveAdmissionWait records how long a caller waited for a host slot.
func ObserveAdmissionWait(host string, waited time.Duration) {
	Init()
	admissionWaitSeconds.WithLabelValues(host).Observe(waited.Seconds())
}

// ObserveRecord increments the record counter for the given outcome.
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCrawl increments the crawl counter.
func ObserveCrawl(mode, status string) {
	Init()
	crawlsTotal.WithLabelValues(mode, status).Inc()
}

// IncActivePipelines increments the in-flight pipeline gauge.
func IncActivePipelines() {
	Init()
	activePipelines.Inc()
}

// DecActivePipelines decrements the in-flight pipeline gauge.
func DecActivePipelines() {
	Init()
	activePipelines.Dec()
}

// ObserveSideEffectFailure counts a failed archive or notification.
func ObserveSideEffectFailure(kind string) {
	Init()
	sideEffectFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
