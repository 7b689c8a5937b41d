// Package metrics provides Prometheus metrics for the slotrace service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
	defaultNamespace       = "slotrace"
	defaultSubsystem       = "race"
)

// Lag buckets in milliseconds; provider gaps are usually single-digit ms but
// a lagging endpoint can trail by seconds.
var defaultLagBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Manager manages all Prometheus metrics for the slotrace service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Race outcome metrics
	arrivals        *prometheus.CounterVec
	lateArrivals    prometheus.Counter
	duplicates      prometheus.Counter
	unknownStream   prometheus.Counter
	ignoredArrivals *prometheus.CounterVec
	racesFinalized  *prometheus.CounterVec
	raceWins        *prometheus.CounterVec
	lag             *prometheus.HistogramVec
	lagQuantile     *prometheus.GaugeVec
	winRate         *prometheus.GaugeVec
	windowSize      prometheus.Gauge
	retractions     prometheus.Counter
	statsAnomalies  prometheus.Counter

	// Event channel metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	lifecycleDropped   prometheus.Counter
	queueBlockedWaitMs prometheus.Histogram

	// Stream worker metrics
	streamConnected  *prometheus.GaugeVec
	streamReconnects *prometheus.CounterVec
	streamBackoffMs  *prometheus.HistogramVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		subsystem:        defaultSubsystem,
		histogramBuckets: defaultLagBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval reports how often the global manager's gauges, such as
// the system ones, should be refreshed.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	registerer := m.registry
	if !m.enabled {
		// Collectors still exist so recording is safe, they are just never exported.
		registerer = prometheus.NewRegistry()
	}
	auto := promauto.With(registerer)
	constLabels := prometheus.Labels(m.customLabels)

	m.arrivals = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "arrivals_total",
		Help:        "Slot arrival events accepted by the referee, by stream",
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.lateArrivals = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "late_arrivals_total",
		Help:        "Arrivals for slots that had already left the window",
		ConstLabels: constLabels,
	})

	m.duplicates = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "duplicate_arrivals_total",
		Help:        "Repeated reports of a slot by the same stream",
		ConstLabels: constLabels,
	})

	m.unknownStream = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "unknown_stream_total",
		Help:        "Arrivals carrying a stream id outside the configured set",
		ConstLabels: constLabels,
	})

	m.ignoredArrivals = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "ignored_arrivals_total",
		Help:        "Arrivals ignored by policy (warmup, max_reached)",
		ConstLabels: constLabels,
	}, []string{"reason"})

	m.racesFinalized = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "races_finalized_total",
		Help:        "Races pushed to the aggregator, by completeness",
		ConstLabels: constLabels,
	}, []string{"complete"})

	m.raceWins = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "wins_total",
		Help:        "All-time race wins by stream",
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.lag = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "lag_milliseconds",
		Help:        "Time behind the race winner in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.lagQuantile = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "lag_quantile_milliseconds",
		Help:        "Windowed nearest-rank lag quantiles in milliseconds",
		ConstLabels: constLabels,
	}, []string{"stream", "quantile"})

	m.winRate = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "win_rate",
		Help:        "Windowed win rate (0..1) by stream",
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.windowSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "window_size",
		Help:        "Race records currently tracked by the referee",
		ConstLabels: constLabels,
	})

	m.retractions = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "retractions_total",
		Help:        "Finalized races retracted from the metrics window",
		ConstLabels: constLabels,
	})

	m.statsAnomalies = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stats_anomalies_total",
		Help:        "Removals of lag values that were not present (bookkeeping bugs)",
		ConstLabels: constLabels,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "queue",
		Name:        "size",
		Help:        "Arrival events waiting for the referee (backlog indicator)",
		ConstLabels: constLabels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "queue",
		Name:        "capacity",
		Help:        "Buffered capacity of the arrival event channel",
		ConstLabels: constLabels,
	})

	m.lifecycleDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "queue",
		Name:        "lifecycle_dropped_total",
		Help:        "Lifecycle notifications dropped under pressure",
		ConstLabels: constLabels,
	})

	m.queueBlockedWaitMs = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "queue",
		Name:        "enqueue_wait_milliseconds",
		Help:        "Time producers spent waiting for channel space",
		Buckets:     []float64{0.01, 0.1, 1, 5, 10, 50, 100, 500, 1000},
		ConstLabels: constLabels,
	})

	m.streamConnected = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "connected",
		Help:        "1 while the stream holds a live subscription",
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.streamReconnects = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "reconnects_total",
		Help:        "Reconnect attempts by stream",
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.streamBackoffMs = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "backoff_milliseconds",
		Help:        "Backoff delays chosen before reconnecting",
		Buckets:     []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		ConstLabels: constLabels,
	}, []string{"stream"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "errors_total",
		Help:        "HTTP errors by endpoint, method and error type",
		ConstLabels: constLabels,
	}, []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        "memory_usage_bytes",
		Help:        "Current memory usage in bytes",
		ConstLabels: constLabels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        "goroutine_count",
		Help:        "Current number of goroutines",
		ConstLabels: constLabels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "system",
		Name:        "gc_pause_time_milliseconds",
		Help:        "Garbage collection pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: constLabels,
	})
}

// RecordArrival increments the accepted arrivals counter for a stream.
func RecordArrival(stream string) {
	globalManager.arrivals.WithLabelValues(stream).Inc()
}

// RecordLateArrival increments the late arrivals counter.
func RecordLateArrival() {
	globalManager.lateArrivals.Inc()
}

// RecordDuplicateArrival increments the duplicate arrivals counter.
func RecordDuplicateArrival() {
	globalManager.duplicates.Inc()
}

// RecordUnknownStream increments the unknown stream counter.
func RecordUnknownStream() {
	globalManager.unknownStream.Inc()
}

// RecordIgnoredArrival increments the ignored arrivals counter for a reason.
func RecordIgnoredArrival(reason string) {
	globalManager.ignoredArrivals.WithLabelValues(reason).Inc()
}

// RecordRaceFinalized counts a race pushed to the aggregator.
func RecordRaceFinalized(complete bool) {
	label := "false"
	if complete {
		label = "true"
	}
	globalManager.racesFinalized.WithLabelValues(label).Inc()
}

// RecordWin increments the all-time wins counter for a stream.
func RecordWin(stream string) {
	globalManager.raceWins.WithLabelValues(stream).Inc()
}

// ObserveLag records a lag sample in milliseconds.
func ObserveLag(stream string, lagMs float64) {
	globalManager.lag.WithLabelValues(stream).Observe(lagMs)
}

// UpdateLagQuantile sets a windowed lag quantile gauge in milliseconds.
func UpdateLagQuantile(stream, quantile string, lagMs float64) {
	globalManager.lagQuantile.WithLabelValues(stream, quantile).Set(lagMs)
}

// UpdateWinRate sets the windowed win rate for a stream.
func UpdateWinRate(stream string, rate float64) {
	globalManager.winRate.WithLabelValues(stream).Set(rate)
}

// UpdateWindowSize sets the number of tracked race records.
func UpdateWindowSize(size int) {
	globalManager.windowSize.Set(float64(size))
}

// RecordRetraction counts a race leaving the metrics window.
func RecordRetraction() {
	globalManager.retractions.Inc()
}

// RecordStatsAnomaly counts a removal of a value that was not present.
func RecordStatsAnomaly() {
	globalManager.statsAnomalies.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordLifecycleDropped counts a dropped lifecycle notification.
func RecordLifecycleDropped() {
	globalManager.lifecycleDropped.Inc()
}

// RecordEnqueueWait records how long a producer waited for channel space.
func RecordEnqueueWait(waitMs float64) {
	globalManager.queueBlockedWaitMs.Observe(waitMs)
}

// UpdateStreamConnected flags a stream as connected or not.
func UpdateStreamConnected(stream string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	globalManager.streamConnected.WithLabelValues(stream).Set(v)
}

// RecordStreamReconnect counts a reconnect attempt and the delay chosen for it.
func RecordStreamReconnect(stream string, delay time.Duration) {
	globalManager.streamReconnects.WithLabelValues(stream).Inc()
	globalManager.streamBackoffMs.WithLabelValues(stream).Observe(float64(delay.Milliseconds()))
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint increments the error counter for an endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the current memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the current goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
