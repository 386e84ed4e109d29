package edgeconfig

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the read path: remote
// requests, conditional revalidation, stale serving and per-scope coalescing.
// It is safe for concurrent use. A nil collector records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	revalidations *prometheus.CounterVec
	staleServed   *prometheus.CounterVec
	etagCacheSize prometheus.Gauge

	swrRefreshFailures *prometheus.CounterVec

	loaderBatches   *prometheus.CounterVec
	loaderBatchKeys prometheus.Histogram
	memoHits        *prometheus.CounterVec

	embeddedReads *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_requests_total",
				Help: "Total number of requests made to the remote store",
			},
			[]string{"operation", "method", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgeconfig_request_duration_seconds",
				Help:    "Duration of requests to the remote store in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "method"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edgeconfig_requests_in_flight",
				Help: "Number of requests to the remote store currently in flight",
			},
			[]string{"operation"},
		),
		revalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_etag_revalidations_total",
				Help: "Conditional requests sent with If-None-Match, by outcome",
			},
			[]string{"result"},
		),
		staleServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_stale_served_total",
				Help: "Responses served from stale data",
			},
			[]string{"layer"},
		),
		etagCacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgeconfig_etag_cache_entries",
				Help: "Current number of entries in the conditional-request cache",
			},
		),
		swrRefreshFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_swr_refresh_failures_total",
				Help: "Background revalidations that failed and kept the stale value",
			},
			[]string{"name"},
		),
		loaderBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_loader_batches_total",
				Help: "Network calls issued by per-scope loaders, by kind",
			},
			[]string{"kind"},
		),
		loaderBatchKeys: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edgeconfig_loader_batch_keys",
				Help:    "Number of keys resolved per loader batch",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		memoHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_loader_memo_hits_total",
				Help: "Reads answered from per-scope memoised results",
			},
			[]string{"operation"},
		),
		embeddedReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_embedded_reads_total",
				Help: "Reads answered from the embedded snapshot",
			},
			[]string{"operation"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconfig_errors_total",
				Help: "Total number of errors returned to callers",
			},
			[]string{"type", "operation"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(operation, method string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(operation, method, strconv.Itoa(statusCode)).Inc()
	mc.requestDuration.WithLabelValues(operation, method).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(operation string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(operation).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(operation string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(operation).Dec()
}

// RecordRevalidation counts a conditional request; notModified is true for a 304.
func (mc *MetricsCollector) RecordRevalidation(notModified bool) {
	if mc == nil {
		return
	}

	result := "modified"
	if notModified {
		result = "not_modified"
	}
	mc.revalidations.WithLabelValues(result).Inc()
}

// RecordStaleServed counts a stale answer from the given layer ("http" or "swr").
func (mc *MetricsCollector) RecordStaleServed(layer string) {
	if mc == nil {
		return
	}

	mc.staleServed.WithLabelValues(layer).Inc()
}

// RecordETagCacheSize sets the conditional-request cache size gauge.
func (mc *MetricsCollector) RecordETagCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.etagCacheSize.Set(float64(size))
}

// RecordSWRRefreshFailure counts a failed background revalidation.
func (mc *MetricsCollector) RecordSWRRefreshFailure(name string) {
	if mc == nil {
		return
	}

	mc.swrRefreshFailures.WithLabelValues(name).Inc()
}

// RecordLoaderBatch counts a loader network call and the keys it resolved.
func (mc *MetricsCollector) RecordLoaderBatch(kind string, keys int) {
	if mc == nil {
		return
	}

	mc.loaderBatches.WithLabelValues(kind).Inc()
	if keys > 0 {
		mc.loaderBatchKeys.Observe(float64(keys))
	}
}

// RecordMemoHit counts a read answered without any network call.
func (mc *MetricsCollector) RecordMemoHit(operation string) {
	if mc == nil {
		return
	}

	mc.memoHits.WithLabelValues(operation).Inc()
}

// RecordEmbeddedRead counts a read answered from the embedded snapshot.
func (mc *MetricsCollector) RecordEmbeddedRead(operation string) {
	if mc == nil {
		return
	}

	mc.embeddedReads.WithLabelValues(operation).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, operation string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, operation).Inc()
}

// GetRegistry returns the underlying registry when it is a *prometheus.Registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	reg, _ := mc.registry.(*prometheus.Registry)
	return reg
}
