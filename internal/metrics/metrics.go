// Package metrics exposes Prometheus collectors for the family crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Crawl states reported by the crawler_state gauge.
var crawlStates = []string{"starting", "crawling", "committing", "succeeded", "failed"}

var (
	directoriesTotal            *prometheus.CounterVec
	listingRetriesTotal         prometheus.Counter
	familiesTotal               prometheus.Counter
	groupsTotal                 *prometheus.CounterVec
	filesTotal                  prometheus.Counter
	bytesTotal                  *prometheus.CounterVec
	batchesTotal                *prometheus.CounterVec
	itemsCommittedTotal         prometheus.Counter
	itemsDeadLetteredTotal      prometheus.Counter
	outboundDepth               prometheus.Gauge
	idleWorkers                 *prometheus.GaugeVec
	crawlState                  *prometheus.GaugeVec
	rateLimitDelaysSeconds      *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	batchPublishDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		directoriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_directories_total",
				Help: "Directories processed, labeled by result.",
			},
			[]string{"result"},
		)

		listingRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_listing_retries_total",
				Help: "Transient listing failures that were retried.",
			},
		)

		familiesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_families_total",
				Help: "Families serialized onto the outbound queue.",
			},
		)

		groupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_groups_total",
				Help: "Groups crawled, labeled by parser.",
			},
			[]string{"parser"},
		)

		filesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_files_total",
				Help: "Files included in valid groups.",
			},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Bytes of files included in valid groups, labeled by extension category.",
			},
			[]string{"category"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_batches_total",
				Help: "Batches sent to the message queue, labeled by status.",
			},
			[]string{"status"},
		)

		itemsCommittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_items_committed_total",
				Help: "Outbound items accepted by the message queue.",
			},
		)

		itemsDeadLetteredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_items_dead_lettered_total",
				Help: "Outbound items abandoned after exhausting publish attempts.",
			},
		)

		outboundDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_outbound_queue_depth",
				Help: "Items waiting in the outbound queue.",
			},
		)

		idleWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_idle_workers",
				Help: "Idle workers per pool.",
			},
			[]string{"pool"},
		)

		crawlState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_state",
				Help: "Current crawl lifecycle state (1 for the active state).",
			},
			[]string{"state"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"key"},
		)

		batchPublishDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_publish_duration_seconds",
				Help:    "Histogram of SendBatch latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDirectory counts a processed directory by result ("listed" or a
// failure reason).
func ObserveDirectory(result string) {
	Init()
	directoriesTotal.WithLabelValues(result).Inc()
}

// ObserveListingRetry counts one retried listing.
func ObserveListingRetry() {
	Init()
	listingRetriesTotal.Inc()
}

// ObserveGroup counts one valid group.
func ObserveGroup(parser string) {
	Init()
	if parser == "" {
		parser = "unknown"
	}
	groupsTotal.WithLabelValues(parser).Inc()
}

// ObserveFamily records a family pushed to the outbound queue. bytes is
// keyed by extension category.
func ObserveFamily(files int64, bytes map[string]int64) {
	Init()
	familiesTotal.Inc()
	if files > 0 {
		filesTotal.Add(float64(files))
	}
	for category, n := range bytes {
		if n <= 0 {
			continue
		}
		if category == "" {
			category = "other"
		}
		bytesTotal.WithLabelValues(category).Add(float64(n))
	}
}

// ObserveBatch records one SendBatch call.
func ObserveBatch(status string, committed int, duration time.Duration) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
	if committed > 0 {
		itemsCommittedTotal.Add(float64(committed))
	}
	batchPublishDurationSeconds.Observe(duration.Seconds())
}

// ObserveDeadLetters counts abandoned outbound items.
func ObserveDeadLetters(n int) {
	Init()
	if n > 0 {
		itemsDeadLetteredTotal.Add(float64(n))
	}
}

// SetOutboundDepth records the outbound queue length.
func SetOutboundDepth(n int) {
	Init()
	outboundDepth.Set(float64(n))
}

// SetIdleWorkers records the idle count of a pool.
func SetIdleWorkers(pool string, idle int) {
	Init()
	idleWorkers.WithLabelValues(pool).Set(float64(idle))
}

// SetCrawlState marks state as the active lifecycle state.
func SetCrawlState(state string) {
	Init()
	for _, s := range crawlStates {
		v := 0.0
		if s == state {
			v = 1
		}
		crawlState.WithLabelValues(s).Set(v)
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
