// Package metrics exposes Prometheus collectors for the harvesting jobs.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchBytesTotal        *prometheus.CounterVec
	collectorTasksTotal    *prometheus.CounterVec
	itemsDiscoveredTotal   *prometheus.CounterVec
	itemsWrittenTotal      *prometheus.CounterVec
	runsTotal              *prometheus.CounterVec
	runDurationSeconds     *prometheus.HistogramVec
	activeWorkers          prometheus.Gauge
	pendingEnrichmentGauge prometheus.Gauge
	failedRunsGauge        prometheus.Gauge
	silentSourcesGauge     prometheus.Gauge
	publishFailuresTotal   prometheus.Counter
	notificationsSentTotal *prometheus.CounterVec
	rateLimitWaitSeconds   *prometheus.HistogramVec
	renderPromotionsTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		collectorTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_collector_tasks_total",
				Help: "Per-source collector executions, labeled by collector and result.",
			},
			[]string{"collector", "result"},
		)

		itemsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_items_discovered_total",
				Help: "Items emitted by collectors before dedup, labeled by collector.",
			},
			[]string{"collector"},
		)

		itemsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_items_written_total",
				Help: "Items handled by the store writer, labeled by result.",
			},
			[]string{"result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_runs_total",
				Help: "Completed runs, labeled by run type and status.",
			},
			[]string{"run_type", "status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_run_duration_seconds",
				Help:    "Histogram of run durations, labeled by run type.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"run_type"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "radar_active_workers",
				Help: "Number of workers currently collecting a source.",
			},
		)

		pendingEnrichmentGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "radar_pending_enrichment",
				Help: "Items waiting for the enrichment stage at the last health check.",
			},
		)

		failedRunsGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "radar_failed_runs",
				Help: "Runs with failures inside the health check lookback window.",
			},
		)

		silentSourcesGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "radar_silent_sources",
				Help: "Sources past their silence threshold at the last health check.",
			},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "radar_publish_failures_total",
				Help: "Discovery events that could not be published.",
			},
		)

		notificationsSentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_notifications_total",
				Help: "Health notifications, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_rate_limit_wait_seconds",
				Help:    "Time requests spent waiting on the per-host limiter.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		renderPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_render_promotions_total",
				Help: "Listing pages re-fetched headlessly after looking like a script shell.",
			},
			[]string{"site"},
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

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL, result string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveCollectorTask records the outcome of one collector/source pair.
func ObserveCollectorTask(collector, result string, items int) {
	Init()
	collectorTasksTotal.WithLabelValues(collector, result).Inc()
	if items > 0 {
		itemsDiscoveredTotal.WithLabelValues(collector).Add(float64(items))
	}
}

// ObserveWrite records store writer outcomes.
func ObserveWrite(result string, n int) {
	Init()
	if n > 0 {
		itemsWrittenTotal.WithLabelValues(result).Add(float64(n))
	}
}

// ObserveRun records a finished run.
func ObserveRun(runType, status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(runType, status).Inc()
	runDurationSeconds.WithLabelValues(runType).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetHealth publishes the headline numbers of a health check.
func SetHealth(pending, failedRuns, silent int) {
	Init()
	pendingEnrichmentGauge.Set(float64(pending))
	failedRunsGauge.Set(float64(failedRuns))
	silentSourcesGauge.Set(float64(silent))
}

// ObservePublishFailure counts a discovery event that was not delivered.
func ObservePublishFailure() {
	Init()
	publishFailuresTotal.Inc()
}

// ObserveNotification counts a health notification outcome (sent, suppressed, failed, dry_run).
func ObserveNotification(outcome string) {
	Init()
	notificationsSentTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records a limiter delay for the host of rawURL.
func ObserveRateLimitWait(rawURL string, wait time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(wait.Seconds())
}

// ObserveRenderPromotion counts a plain fetch that was retried headlessly.
func ObserveRenderPromotion(rawURL string) {
	Init()
	renderPromotionsTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// Push sends the default registry to a Pushgateway. Batch jobs exit before a
// scrape could happen, so this is their only export path.
func Push(ctx context.Context, gatewayURL, job string, grouping map[string]string) error {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil
	}
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
