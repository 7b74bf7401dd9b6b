package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/telemetry"
)

const noRoute = "<no-route>"

// denialReasons maps the statuses written by AuthMiddleware, RequireScope and
// RateLimitMiddleware to the reason label of audit_api_denials_total.
var denialReasons = map[int]string{
	http.StatusUnauthorized:    "unauthenticated",
	http.StatusForbidden:       "forbidden",
	http.StatusTooManyRequests: "rate_limited",
}

// MetricsMiddleware records per-route traffic for the audit API.
//
// Every request increments http_requests_total{method, path, status} and observes
// http_request_duration_seconds{method, path}. Requests denied by the access layer in
// front of the event store also increment audit_api_denials_total{path, reason}, so a
// spike of 403s on GET /api/v1/audit/events/export stands apart from ordinary client
// errors.
//
// The path label is the matched route template (/api/v1/audit/events/:id), never the
// raw URL, so event ids stay out of the label set. Unmatched requests use "<no-route>".
//
// Latency is measured from the start time stamped by RequestIDMiddleware when it ran
// first; otherwise from entry into this handler:
//
//	router.Use(gin.Recovery())
//	router.Use(RequestIDMiddleware())
//	router.Use(MetricsMiddleware())
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := requestStart(c)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method
		status := c.Writer.Status()

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		if reason, ok := denialReasons[status]; ok {
			telemetry.AuditAPIDenialsTotal.WithLabelValues(path, reason).Inc()
		}
	}
}

func requestStart(c *gin.Context) time.Time {
	if v, ok := c.Get(requestStartKey); ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Now()
}
