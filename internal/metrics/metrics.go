// Package metrics exposes Prometheus collectors for the price watcher.
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
	itemsProcessedTotal        *prometheus.CounterVec
	itemFailuresTotal          *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	cooldownsTotal             *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	tickDurationSeconds        prometheus.Histogram
	tickCandidates             prometheus.Gauge
	pacingDelaySeconds         prometheus.Histogram
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_items_processed_total",
				Help: "Tracked items processed by the scheduler, labeled by fetch outcome.",
			},
			[]string{"outcome"},
		)

		itemFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_item_failures_total",
				Help: "Per-item failures inside a tick, labeled by stage.",
			},
			[]string{"stage"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_fetch_attempts_total",
				Help: "HTTP requests issued by the fetch engine, labeled by site and status code.",
			},
			[]string{"site", "code"},
		)

		cooldownsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_cooldowns_total",
				Help: "Anti-bot cooldowns applied, labeled by site.",
			},
			[]string{"site"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_alerts_total",
				Help: "Price alerts dispatched, labeled by result.",
			},
			[]string{"result"},
		)

		tickDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricewatch_tick_duration_seconds",
				Help:    "Wall time spent processing one scheduler tick.",
				Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
			},
		)

		tickCandidates = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_tick_candidates",
				Help: "Items selected by the most recent tick.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricewatch_pacing_delay_seconds",
				Help:    "Pause inserted between items to hold the target request rate.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations for on-demand fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	Init()
	return promhttp.Handler()
}

// ObserveItem counts one processed item by outcome kind.
func ObserveItem(outcome string) {
	Init()
	itemsProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObserveItemFailure counts a per-item failure at the given stage (fetch, persist, panic).
func ObserveItemFailure(stage string) {
	Init()
	itemFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveFetchAttempt counts one engine request.
func ObserveFetchAttempt(site, code string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(site), code).Inc()
}

// ObserveCooldown counts an anti-bot cooldown for the item's site.
func ObserveCooldown(rawURL string) {
	Init()
	cooldownsTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveAlert counts an alert dispatch; result is "sent" or "failed".
func ObserveAlert(result string) {
	Init()
	alertsTotal.WithLabelValues(result).Inc()
}

// ObserveTick records tick duration and candidate count.
func ObserveTick(candidates int, duration time.Duration) {
	Init()
	tickCandidates.Set(float64(candidates))
	tickDurationSeconds.Observe(duration.Seconds())
}

// ObservePacingDelay records one inter-item pause.
func ObservePacingDelay(d time.Duration) {
	Init()
	pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
