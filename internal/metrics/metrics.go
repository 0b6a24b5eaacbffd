// Package metrics provides Prometheus metrics for the setup sync agent.
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
	// HTTP request metrics (control surface)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_http_requests_total",
			Help: "Total number of control surface HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "setupsync_http_request_duration_seconds",
			Help:    "Control surface HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Remote service metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_remote_requests_total",
			Help: "Total requests made to the remote services",
		},
		[]string{"operation", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "setupsync_remote_request_duration_seconds",
			Help:    "Remote request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Credential metrics
	credentialRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_credential_refreshes_total",
			Help: "Total credential refresh attempts",
		},
		[]string{"result"},
	)

	tokenExpiry = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "setupsync_access_token_expiry_timestamp_seconds",
			Help: "Unix time at which the current access token expires (0 if unknown)",
		},
	)

	// Catalog metrics
	catalogRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_catalog_refreshes_total",
			Help: "Total catalog refresh attempts",
		},
		[]string{"result"},
	)

	catalogEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "setupsync_catalog_entries",
			Help: "Number of entries in the loaded catalog",
		},
		[]string{"kind"},
	)

	// Reconciliation metrics
	reconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_reconcile_runs_total",
			Help: "Total reconciliation runs",
		},
		[]string{"result"},
	)

	artifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_artifacts_total",
			Help: "Artifacts seen by reconciliation, by outcome",
		},
		[]string{"outcome"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "setupsync_artifact_bytes_downloaded_total",
			Help: "Total artifact bytes written to storage",
		},
	)

	// Scheduler metrics
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "setupsync_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job", "result"},
	)

	// Control surface auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_auth_attempts_total",
			Help: "Total admin authentication attempts",
		},
		[]string{"result"},
	)

	sseSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "setupsync_sse_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)

	// S3 metrics
	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setupsync_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Database metrics (history store)
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "setupsync_db_query_duration_seconds",
			Help:    "History database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRemoteRequest records a round-trip to one of the remote services.
// status is the HTTP status code, or 0 when the transport failed.
func RecordRemoteRequest(operation string, status int, duration time.Duration) {
	remoteRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	remoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCredentialRefresh records a credential refresh attempt.
func RecordCredentialRefresh(success bool) {
	credentialRefreshesTotal.WithLabelValues(resultLabel(success)).Inc()
}

// SetTokenExpiry publishes the expiry of the current access token.
func SetTokenExpiry(t time.Time) {
	if t.IsZero() {
		tokenExpiry.Set(0)
		return
	}
	tokenExpiry.Set(float64(t.Unix()))
}

// RecordCatalogRefresh records a catalog refresh attempt.
func RecordCatalogRefresh(success bool) {
	catalogRefreshesTotal.WithLabelValues(resultLabel(success)).Inc()
}

// SetCatalogSize sets the number of cars and tracks in the loaded catalog.
func SetCatalogSize(cars, tracks int) {
	catalogEntries.WithLabelValues("car").Set(float64(cars))
	catalogEntries.WithLabelValues("track").Set(float64(tracks))
}

// RecordReconcile records a finished reconciliation run.
func RecordReconcile(success bool) {
	reconcileRunsTotal.WithLabelValues(resultLabel(success)).Inc()
}

// RecordArtifactDownloaded records an artifact written to storage.
func RecordArtifactDownloaded(size int) {
	artifactsTotal.WithLabelValues("downloaded").Inc()
	bytesDownloaded.Add(float64(size))
}

// RecordArtifactSkipped records an artifact that already existed.
func RecordArtifactSkipped() {
	artifactsTotal.WithLabelValues("skipped").Inc()
}

// RecordArtifactFailed records an artifact whose download or write failed.
func RecordArtifactFailed() {
	artifactsTotal.WithLabelValues("failed").Inc()
}

// RecordJob records a scheduled job run.
func RecordJob(job string, duration time.Duration, success bool) {
	jobDuration.WithLabelValues(job, resultLabel(success)).Observe(duration.Seconds())
}

// RecordAuthAttempt records an admin authentication attempt.
// result is one of "success", "failure" or "limited".
func RecordAuthAttempt(result string) {
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// SetSSESubscribers sets the number of active event stream subscribers.
func SetSSESubscribers(count int) {
	sseSubscribers.Set(float64(count))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, success bool) {
	s3OperationsTotal.WithLabelValues(operation, resultLabel(success)).Inc()
}

// RecordDBQuery records a history database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
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

// Middleware returns HTTP middleware that records request metrics.
// The route pattern is used as the path label to keep cardinality bounded.
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
