package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamgate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Key Delivery Metrics
	KeyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_key_requests_total",
			Help: "Total number of segment key requests",
		},
		[]string{"path", "outcome"},
	)

	KeyDerivationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamgate_key_derivation_duration_seconds",
			Help:    "Time spent deriving segment key material",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	// Ledger Metrics
	DebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_ledger_debits_total",
			Help: "Total number of ledger debit attempts",
		},
		[]string{"outcome"},
	)

	SessionsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_sessions_opened_total",
			Help: "Total number of sessions opened",
		},
		[]string{"kind"},
	)

	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_sessions_closed_total",
			Help: "Total number of sessions closed",
		},
		[]string{"reason"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamgate_sessions_active",
			Help: "Number of currently active metered sessions",
		},
	)

	// Settlement Metrics
	SettlementAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_settlement_attempts_total",
			Help: "Total number of settlement attempts",
		},
		[]string{"outcome"},
	)

	// Processing Metrics
	VideoUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamgate_video_uploads_total",
			Help: "Total number of video uploads",
		},
	)

	SegmentsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamgate_segments_processed_total",
			Help: "Total number of segments encrypted and uploaded",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamgate_processing_duration_seconds",
			Help:    "End-to-end video processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamgate_jobs_queue_depth",
			Help: "Number of processing jobs waiting in queue",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordKeyRequest records a key request outcome. path is "binary" or
// "json"; outcome is "granted", "denied" or "error".
func RecordKeyRequest(path, outcome string) {
	KeyRequestsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordDebit records a ledger debit attempt
func RecordDebit(outcome string) {
	DebitsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionOpened records a session open. kind is "metered" or "legacy".
func RecordSessionOpened(kind string) {
	SessionsOpenedTotal.WithLabelValues(kind).Inc()
}

// RecordSessionClosed records a session close. reason is "viewer" or
// "idle_reaper".
func RecordSessionClosed(reason string) {
	SessionsClosedTotal.WithLabelValues(reason).Inc()
}

// RecordSettlement records a settlement attempt outcome
func RecordSettlement(outcome string) {
	SettlementAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
