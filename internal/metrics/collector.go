// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Search outcomes recorded by RecordSearch.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeOK       = "ok"
	OutcomeEmpty    = "empty"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// =============================================================================
// 📊 Collector
// =============================================================================

// Collector owns every Prometheus collector of the service.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Search pipeline
	searchRequestsTotal *prometheus.CounterVec
	searchStageDuration *prometheus.HistogramVec
	searchResults       prometheus.Histogram
	retrieverFailures   *prometheus.CounterVec
	restrictedFiltered  prometheus.Counter

	// Model calls (embedding, judgment)
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	rerankFallbacks    *prometheus.CounterVec

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	// Governance
	governanceEvents     *prometheus.CounterVec
	governanceQueueDepth prometheus.Gauge
	governanceScores     *prometheus.GaugeVec
	obsolescenceFindings *prometheus.GaugeVec

	// Database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the collectors on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWithRegistry registers the collectors on reg.
func NewCollectorWithRegistry(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Search pipeline
	c.searchRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by outcome",
		},
		[]string{"outcome", "access_level"},
	)

	c.searchStageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each search pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	c.searchResults = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 50},
		},
	)

	c.retrieverFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "retriever_failures_total",
			Help:      "Retriever channels that failed or timed out",
		},
		[]string{"channel"},
	)

	c.restrictedFiltered = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "restricted_filtered_total",
			Help:      "Restricted items hidden from unauthorized queries",
		},
	)

	// Model calls
	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of embedding and judgment requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Embedding and judgment request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	c.rerankFallbacks = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "rerank_fallbacks_total",
			Help:      "Reranks that kept the merged order",
		},
		[]string{"reason"},
	)

	// Cache
	c.cacheHits = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.cacheErrors = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache backend failures",
		},
		[]string{"cache_type", "op"},
	)

	// Governance
	c.governanceEvents = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "events_total",
			Help:      "Search events offered to the governance pipeline",
		},
		[]string{"result"},
	)

	c.governanceQueueDepth = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "queue_depth",
			Help:      "Search events waiting to be processed",
		},
	)

	c.governanceScores = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "score",
			Help:      "Latest dashboard scores in [0,1]",
		},
		[]string{"kind"},
	)

	c.obsolescenceFindings = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "obsolescence_detections",
			Help:      "Current obsolescence detections by severity",
		},
		[]string{"severity"},
	)

	// Database
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP
// =============================================================================

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔍 Search pipeline
// =============================================================================

// RecordSearch records the outcome of one search.
func (c *Collector) RecordSearch(outcome, accessLevel string, results int, total time.Duration) {
	c.searchRequestsTotal.WithLabelValues(outcome, accessLevel).Inc()
	c.searchResults.Observe(float64(results))
	c.searchStageDuration.WithLabelValues("total").Observe(total.Seconds())
}

// RecordStage records the latency of a pipeline stage.
func (c *Collector) RecordStage(stage string, d time.Duration) {
	c.searchStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRetrieverFailure counts a failed or timed-out retriever channel.
func (c *Collector) RecordRetrieverFailure(channel string) {
	c.retrieverFailures.WithLabelValues(channel).Inc()
}

// RecordRestrictedFiltered counts restricted items hidden from a query.
func (c *Collector) RecordRestrictedFiltered(n int) {
	if n > 0 {
		c.restrictedFiltered.Add(float64(n))
	}
}

// RecordLLMRequest records an embedding or judgment call.
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordRerankFallback counts a rerank that kept the merged order.
func (c *Collector) RecordRerankFallback(reason string) {
	c.rerankFallbacks.WithLabelValues(reason).Inc()
}

// =============================================================================
// 💾 Cache
// =============================================================================

// RecordCacheHit counts a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheError counts a backend failure for op (get, set).
func (c *Collector) RecordCacheError(cacheType, op string) {
	c.cacheErrors.WithLabelValues(cacheType, op).Inc()
}

// =============================================================================
// 🧭 Governance
// =============================================================================

// RecordGovernanceEvent counts an enqueued or dropped search event.
func (c *Collector) RecordGovernanceEvent(result string) {
	c.governanceEvents.WithLabelValues(result).Inc()
}

// SetGovernanceQueueDepth publishes the pipeline backlog.
func (c *Collector) SetGovernanceQueueDepth(n int) {
	c.governanceQueueDepth.Set(float64(n))
}

// SetGovernanceScore publishes a dashboard score (governance, health, quality, coverage).
func (c *Collector) SetGovernanceScore(kind string, v float64) {
	c.governanceScores.WithLabelValues(kind).Set(v)
}

// SetObsolescenceDetections publishes detection counts keyed by severity.
func (c *Collector) SetObsolescenceDetections(bySeverity map[string]int) {
	for severity, n := range bySeverity {
		c.obsolescenceFindings.WithLabelValues(severity).Set(float64(n))
	}
}

// =============================================================================
// 🗄️ Database
// =============================================================================

// RecordDBConnections records pool sizes.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records a query latency.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 Helpers
// =============================================================================

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
