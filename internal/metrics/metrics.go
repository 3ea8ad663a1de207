// Package metrics exposes Prometheus collectors for the catalog crawler.
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
	apiRequestsTotal              *prometheus.CounterVec
	apiRequestDurationSeconds     *prometheus.HistogramVec
	apiRetriesTotal               *prometheus.CounterVec
	apiReauthTotal                prometheus.Counter
	crawlerSkippedItemsTotal      *prometheus.CounterVec
	crawlerSnapshotsTotal         *prometheus.CounterVec
	crawlerArtistBatchSize        prometheus.Histogram
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; the Observe helpers call it
// on first use.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_api_requests_total",
				Help: "Total number of catalog API attempts, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_api_request_duration_seconds",
				Help:    "Histogram of catalog API attempt latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_api_retries_total",
				Help: "Total number of retried catalog API attempts, labeled by reason.",
			},
			[]string{"reason"},
		)

		apiReauthTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_api_reauth_total",
				Help: "Total number of credential refreshes triggered by 401 responses.",
			},
		)

		crawlerSkippedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_skipped_items_total",
				Help: "Total number of listing entries dropped because they could not be decoded.",
			},
			[]string{"entity"},
		)

		crawlerSnapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_snapshots_total",
				Help: "Total number of category snapshots handed to the sink, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerArtistBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_artist_batch_size",
				Help:    "Number of ids sent per artist lookup request.",
				Buckets: []float64{1, 5, 10, 20, 30, 40, 50},
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently crawling a playlist.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
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

// ObserveAPIRequest records one catalog API attempt.
func ObserveAPIRequest(rawURL, outcome string, duration time.Duration) {
	Init()
	host := SanitizeSite(rawURL)
	apiRequestsTotal.WithLabelValues(host, outcome).Inc()
	apiRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRetry counts an attempt that will be retried.
func ObserveRetry(reason string) {
	Init()
	apiRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveReauth counts a credential refresh caused by a 401.
func ObserveReauth() {
	Init()
	apiReauthTotal.Inc()
}

// ObserveSkippedItem counts a dropped listing entry.
func ObserveSkippedItem(entity string) {
	Init()
	crawlerSkippedItemsTotal.WithLabelValues(entity).Inc()
}

// ObserveSnapshot counts a snapshot handed to the sink.
func ObserveSnapshot(status string) {
	Init()
	crawlerSnapshotsTotal.WithLabelValues(status).Inc()
}

// ObserveArtistBatch records the size of one artist lookup.
func ObserveArtistBatch(size int) {
	Init()
	crawlerArtistBatchSize.Observe(float64(size))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the served HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
