// Package metrics provides Prometheus metrics for the editor service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instantpreview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// File tree metrics
	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "instantpreview_tree_nodes",
			Help: "Number of files and folders in the workspace tree",
		},
	)

	treeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_tree_operations_total",
			Help: "Tree operations by kind and result",
		},
		[]string{"op", "result"},
	)

	// Persistence metrics
	persistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_persist_total",
			Help: "Workspace persist attempts",
		},
		[]string{"key", "status"},
	)

	loadFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_load_fallbacks_total",
			Help: "Loads that fell back to the default workspace",
		},
		[]string{"reason"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instantpreview_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Preview metrics
	previewRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_preview_runs_total",
			Help: "Preview runs by trigger, path and status",
		},
		[]string{"trigger", "path", "status"},
	)

	previewRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instantpreview_preview_run_duration_seconds",
			Help:    "Time from run trigger to surface write",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	autoRunSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_auto_run_skips_total",
			Help: "Content changes that did not trigger an automatic run",
		},
		[]string{"reason"},
	)

	// Executor metrics
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_executions_total",
			Help: "Code executions by language and status",
		},
		[]string{"language", "status"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instantpreview_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "instantpreview_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_sync_runs_total",
			Help: "Background sync runs by status",
		},
		[]string{"status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "instantpreview_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instantpreview_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Quota metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "instantpreview_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetTreeSize sets the current number of nodes in the workspace tree.
func SetTreeSize(n int) {
	treeSize.Set(float64(n))
}

// RecordTreeOperation records a create/delete/rename/update outcome.
func RecordTreeOperation(op string, success bool) {
	treeOperationsTotal.WithLabelValues(op, status(success)).Inc()
}

// RecordPersist records a write of one workspace key.
func RecordPersist(key string, success bool) {
	persistTotal.WithLabelValues(key, status(success)).Inc()
}

// RecordLoadFallback records a load that used the default workspace.
func RecordLoadFallback(reason string) {
	loadFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordStorageOperation records one storage backend call.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordPreviewRun records a finished preview run.
func RecordPreviewRun(trigger, path string, duration time.Duration, success bool) {
	previewRunsTotal.WithLabelValues(trigger, path, status(success)).Inc()
	previewRunDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordAutoRunSkip records a content change that was not auto-run.
func RecordAutoRunSkip(reason string) {
	autoRunSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordExecution records an executor call.
func RecordExecution(language string, success bool) {
	executionsTotal.WithLabelValues(language, status(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordSync records a background sync run.
func RecordSync(success bool) {
	syncRunsTotal.WithLabelValues(status(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request metrics labeled by the matched route pattern,
// so ids in paths do not blow up label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
