// Package telemetry provides application-level observability for the audit trail service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AUDIT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit pipeline: accepted/rejected events, buffer depth, flush outcomes and latency,
//     fallback log writes
//   - Escalation: critical events by threat type and level, notification outcomes
//   - Retention: archived and deleted rows, integrity verification failures
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// Labels only carry closed sets (severity, category, result, threat type, notifier name).
// Actor ids, IPs, and event ids are never used as labels.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Denied audit reads by reason:      sum by (reason) (rate(audit_api_denials_total{path=~"/api/v1/audit/events.*"}[5m]))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// AuditAPIDenialsTotal counts requests to the audit API turned away before reaching
	// a handler: reason is unauthenticated (401), forbidden (403) or rate_limited (429).
	AuditAPIDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_api_denials_total",
			Help: "Total number of audit API requests denied by authentication, authorization, or rate limiting, by route template and reason.",
		},
		[]string{"path", "reason"},
	)
)

// Audit pipeline metrics.
//
// AuditEventsLoggedTotal counts events accepted into the chain. AuditEventsRejectedTotal
// counts Log calls that did not produce a buffered event (validation, capacity, closed).
// AuditBufferDepth is sampled after every enqueue and flush.
//
// Example PromQL queries:
//   - Ingest rate by severity:   sum by (severity) (rate(audit_events_logged_total[5m]))
//   - Flush failure ratio:       rate(audit_flush_total{result="failure"}[5m]) / rate(audit_flush_total[5m])
//   - Alert on backlog growth:   deriv(audit_buffer_depth[10m]) > 0 and audit_buffer_depth > 1000
var (
	AuditEventsLoggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_logged_total",
			Help: "Total number of audit events accepted into the hash chain, by category and severity.",
		},
		[]string{"category", "severity"},
	)

	AuditEventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_rejected_total",
			Help: "Total number of audit events not buffered, by reason.",
		},
		[]string{"reason"},
	)

	AuditBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_buffer_depth",
			Help: "Number of audit events waiting to be written to the database.",
		},
	)

	AuditFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_flush_total",
			Help: "Total number of buffer flushes, by result (success, failure, partial).",
		},
		[]string{"result"},
	)

	AuditFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_flush_duration_seconds",
			Help:    "Duration of a single buffer flush.",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditFallbackWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_fallback_writes_total",
			Help: "Total number of records appended to the local fallback log, by result.",
		},
		[]string{"result"},
	)
)

// Escalation metrics.
//
// Example PromQL queries:
//   - Brute force detections:  increase(audit_critical_events_total{threat_type="brute_force_attempt"}[1h])
//   - Notifier health:         rate(audit_notifications_total{result="failure"}[15m]) > 0
var (
	AuditCriticalEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_critical_events_total",
			Help: "Total number of critical events detected, by threat type and level.",
		},
		[]string{"threat_type", "threat_level"},
	)

	AuditNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_notifications_total",
			Help: "Total number of critical event notifications attempted, by notifier and result.",
		},
		[]string{"notifier", "result"},
	)
)

// Retention and integrity metrics.
var (
	AuditRetentionArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_retention_archived_total",
			Help: "Total number of audit events moved to the archive table.",
		},
	)

	AuditRetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_retention_deleted_total",
			Help: "Total number of archived audit events permanently deleted.",
		},
	)

	AuditIntegrityFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_integrity_failures_total",
			Help: "Total number of audit events whose stored hash failed verification.",
		},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
