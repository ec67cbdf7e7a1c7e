// Package metrics provides Prometheus metrics for the duelrank service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ballot intake
	ballotsReceived  prometheus.Counter
	ballotsDuplicate prometheus.Counter
	ballotsRejected  *prometheus.CounterVec
	ballotsCounted   prometheus.Counter

	// Pairing plans
	pairingsGenerated prometheus.Counter
	pairingPairs      prometheus.Histogram
	pairingRestarts   prometheus.Histogram
	pairingFailures   prometheus.Counter

	// Bradley–Terry estimation
	estimationLatency      prometheus.Histogram
	estimationIterations   prometheus.Histogram
	estimationNonConverged prometheus.Counter
	estimationFailures     *prometheus.CounterVec
	itemsRanked            prometheus.Gauge
	pairsTallied           prometheus.Gauge

	// Repository snapshots
	repositoryRecordsTotal            prometheus.Gauge
	repositoryUpdateLatency           prometheus.Histogram
	repositoryQueryLatency            prometheus.Histogram
	repositorySnapshotRebuildDuration prometheus.Histogram
	repositorySnapshotLastUnix        prometheus.Gauge
	repositorySnapshotCount           prometheus.Counter

	// Ballot queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Tally workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// Runtime
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "duelrank",
		subsystem:        "ranking",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: name, Help: help, ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: name, Help: help, ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one block per collector
	auto := promauto.With(m.registry)

	m.ballotsReceived = auto.NewCounter(m.counterOpts("ballots_received_total",
		"Total number of ballots accepted for tallying"))
	m.ballotsDuplicate = auto.NewCounter(m.counterOpts("ballots_duplicate_total",
		"Total number of ballots dropped as duplicates of an earlier ballot id"))
	m.ballotsRejected = auto.NewCounterVec(m.counterOpts("ballots_rejected_total",
		"Total number of malformed ballots by reason"), []string{"reason"})
	m.ballotsCounted = auto.NewCounter(m.counterOpts("ballots_counted_total",
		"Total number of ballots folded into the live tallies"))

	m.pairingsGenerated = auto.NewCounter(m.counterOpts("pairings_generated_total",
		"Total number of pairing plans generated"))
	m.pairingPairs = auto.NewHistogram(m.histogramOpts("pairing_pairs",
		"Number of pairs per generated plan", prometheus.ExponentialBuckets(8, 2, 12)))
	m.pairingRestarts = auto.NewHistogram(m.histogramOpts("pairing_restarts",
		"Restarts needed before a pairing plan completed", []float64{0, 1, 2, 4, 8, 16}))
	m.pairingFailures = auto.NewCounter(m.counterOpts("pairing_failures_total",
		"Total number of pairing requests that were infeasible"))

	m.estimationLatency = auto.NewHistogram(m.histogramOpts("estimation_latency_milliseconds",
		"Bradley-Terry fit latency in milliseconds", nil))
	m.estimationIterations = auto.NewHistogram(m.histogramOpts("estimation_iterations",
		"Iterations used per Bradley-Terry fit", prometheus.ExponentialBuckets(1, 4, 8)))
	m.estimationNonConverged = auto.NewCounter(m.counterOpts("estimation_nonconverged_total",
		"Total number of fits that hit the iteration limit"))
	m.estimationFailures = auto.NewCounterVec(m.counterOpts("estimation_failures_total",
		"Total number of fits that produced no ranking, by reason"), []string{"reason"})
	m.itemsRanked = auto.NewGauge(m.gaugeOpts("items_ranked",
		"Number of items in the current ranking"))
	m.pairsTallied = auto.NewGauge(m.gaugeOpts("pairs_tallied",
		"Number of distinct pairs with at least one ballot"))

	m.repositoryRecordsTotal = auto.NewGauge(m.gaugeOpts("repository_records_total",
		"Total number of ranked records held by the repository"))
	m.repositoryUpdateLatency = auto.NewHistogram(m.histogramOpts("repository_update_latency_milliseconds",
		"Repository update operation latency in milliseconds", nil))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds",
		"Repository query operation latency in milliseconds", nil))
	m.repositorySnapshotRebuildDuration = auto.NewHistogram(m.histogramOpts(
		"repository_snapshot_rebuild_duration_milliseconds",
		"Repository snapshot rebuild duration in milliseconds", nil))
	m.repositorySnapshotLastUnix = auto.NewGauge(m.gaugeOpts("repository_snapshot_last_unix",
		"Unix timestamp of the last repository snapshot publish"))
	m.repositorySnapshotCount = auto.NewCounter(m.counterOpts("repository_snapshot_count_total",
		"Total number of repository snapshots published"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Current number of ballots waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio",
		"Queue utilization ratio (current size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total",
		"Total number of ballots enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total",
		"Total number of ballots dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total",
		"Total number of enqueue errors"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count",
		"Configured number of tally workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count",
		"Number of workers currently folding a ballot"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("worker_idle_count",
		"Number of idle workers"))
	m.workerMessagesPerSecond = auto.NewGauge(m.gaugeOpts("worker_messages_per_second",
		"Average ballots processed per second across workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Worker processing latency in milliseconds", nil))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total",
		"Total number of worker errors"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Total number of errors by component"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total",
		"Total number of errors by type"), []string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Total number of errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds",
		"Latency of operations that resulted in errors", nil), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"Heap memory in use in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Ballot metrics.

// RecordBallotReceived counts a ballot accepted for tallying.
func RecordBallotReceived() { globalManager.ballotsReceived.Inc() }

// RecordBallotDuplicate counts a ballot dropped by idempotency.
func RecordBallotDuplicate() { globalManager.ballotsDuplicate.Inc() }

// RecordBallotRejected counts a malformed ballot.
func RecordBallotRejected(reason string) {
	globalManager.ballotsRejected.WithLabelValues(reason).Inc()
}

// RecordBallotCounted counts a ballot folded into the live tallies.
func RecordBallotCounted() { globalManager.ballotsCounted.Inc() }

// Pairing metrics.

// RecordPairingGenerated records a completed plan and its size.
func RecordPairingGenerated(pairs int) {
	globalManager.pairingsGenerated.Inc()
	globalManager.pairingPairs.Observe(float64(pairs))
}

// RecordPairingRestarts records how many restarts a plan took.
func RecordPairingRestarts(restarts int) {
	globalManager.pairingRestarts.Observe(float64(restarts))
}

// RecordPairingFailure counts an infeasible pairing request.
func RecordPairingFailure() { globalManager.pairingFailures.Inc() }

// Estimation metrics.

// RecordEstimationLatency records fit latency in milliseconds.
func RecordEstimationLatency(latencyMs float64) {
	globalManager.estimationLatency.Observe(latencyMs)
}

// RecordEstimationIterations records the iterations used by a fit.
func RecordEstimationIterations(iterations int) {
	globalManager.estimationIterations.Observe(float64(iterations))
}

// RecordEstimationNonConverged counts a fit that hit the iteration limit.
func RecordEstimationNonConverged() { globalManager.estimationNonConverged.Inc() }

// RecordEstimationFailure counts a fit that produced no ranking.
func RecordEstimationFailure(reason string) {
	globalManager.estimationFailures.WithLabelValues(reason).Inc()
}

// UpdateItemsRanked sets the number of ranked items.
func UpdateItemsRanked(count int) { globalManager.itemsRanked.Set(float64(count)) }

// UpdatePairsTallied sets the number of distinct tallied pairs.
func UpdatePairsTallied(count int) { globalManager.pairsTallied.Set(float64(count)) }

// Repository metrics.

// UpdateRepositoryRecordsTotal sets the number of ranked records.
func UpdateRepositoryRecordsTotal(count int) {
	globalManager.repositoryRecordsTotal.Set(float64(count))
}

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordRepositorySnapshotRebuildDuration records how long a snapshot took to build.
func RecordRepositorySnapshotRebuildDuration(ms float64) {
	globalManager.repositorySnapshotRebuildDuration.Observe(ms)
}

// UpdateRepositorySnapshotLastUnix sets the publish time of the latest snapshot.
func UpdateRepositorySnapshotLastUnix(ts float64) {
	globalManager.repositorySnapshotLastUnix.Set(ts)
}

// IncrementRepositorySnapshotCount counts a published snapshot.
func IncrementRepositorySnapshotCount() { globalManager.repositorySnapshotCount.Inc() }

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) { globalManager.workerIdleCount.Set(float64(count)) }

// UpdateWorkerMessagesPerSecond sets the average ballots processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) { globalManager.workerMessagesPerSecond.Set(rate) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrorRate.Inc() }

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// Runtime metrics.

// UpdateSystemMemoryUsage sets heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry { return customRegistry }
