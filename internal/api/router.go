// Package api wires together all HTTP routes of the audit trail service.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated health endpoints.
//   - /api/v1/audit requires a bearer JWT. Producers hold audit:write, auditors hold
//     audit:read, and legal holds plus retention management require audit:admin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/api/admin"
	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/middleware"
	"github.com/audit-trail/audit-trail/internal/storage"
)

// Version is reported by /version. It is overridden at build time with
// -ldflags "-X github.com/audit-trail/audit-trail/internal/api.Version=...".
var Version = "0.1.0"

// Pinger checks database connectivity. *sqlx.DB and *sql.DB satisfy it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StatsSource reports the state of the audit pipeline. *audit.Logger satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (audit.Stats, error)
}

// AuditPipeline is the write side of the trail. *audit.Logger satisfies it.
type AuditPipeline interface {
	admin.EventLogger
	StatsSource
}

// Dependencies are the collaborators the router hands to the handlers.
type Dependencies struct {
	Config     *config.Config
	DB         Pinger
	Logger     AuditPipeline
	Events     admin.EventQuerier
	Criticals  admin.CriticalEventReader
	Reports    admin.ReportGenerator
	Integrity  admin.ChainVerifier
	Holds      admin.HoldManager
	Policies   admin.PolicyStore
	Retention  admin.RetentionRunner
	Archive    storage.Storage // nil when archive export is disabled
	RateLimits middleware.Limiter
}

// NewRouter creates and configures the Gin router
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(CORSMiddleware(deps.Config))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Logger, deps.Archive))
	router.GET("/version", versionHandler())

	events := admin.NewEventHandlers(deps.Logger, deps.Events)
	holds := admin.NewLegalHoldHandlers(deps.Holds)
	criticals := admin.NewCriticalEventHandlers(deps.Criticals)
	reports := admin.NewReportHandlers(deps.Reports)
	integrity := admin.NewIntegrityHandlers(deps.Integrity)
	retention := admin.NewRetentionHandlers(deps.Policies, deps.Retention, deps.Logger)

	v1 := router.Group("/api/v1/audit")
	if deps.RateLimits != nil {
		v1.Use(middleware.RateLimitMiddleware(deps.RateLimits))
	}
	v1.Use(middleware.AuthMiddleware(deps.Logger))

	read := middleware.RequireScope(auth.ScopeAuditRead, deps.Logger)
	write := middleware.RequireScope(auth.ScopeAuditWrite, deps.Logger)
	adminOnly := middleware.RequireScope(auth.ScopeAuditAdmin, deps.Logger)

	v1.POST("/events", write, events.CreateEventHandler())
	v1.GET("/events", read, events.ListEventsHandler())
	v1.GET("/events/:id", read, events.GetEventHandler())
	v1.POST("/events/:id/legal-hold", adminOnly, holds.PlaceHoldHandler())
	v1.DELETE("/events/:id/legal-hold", adminOnly, holds.ReleaseHoldHandler())
	v1.GET("/legal-holds", adminOnly, holds.ListHoldsHandler())

	v1.GET("/critical-events", read, criticals.ListHandler())
	v1.GET("/integrity", read, integrity.VerifyHandler())

	v1.POST("/reports", read, reports.GenerateHandler())
	v1.GET("/reports/frameworks", read, reports.FrameworksHandler())

	retentionGroup := v1.Group("/retention", adminOnly)
	{
		retentionGroup.GET("/policies", retention.ListPoliciesHandler())
		retentionGroup.GET("/policies/:id", retention.GetPolicyHandler())
		retentionGroup.POST("/policies", retention.CreatePolicyHandler())
		retentionGroup.PUT("/policies/:id", retention.UpdatePolicyHandler())
		retentionGroup.DELETE("/policies/:id", retention.DeletePolicyHandler())
		retentionGroup.POST("/run", retention.RunHandler())
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept events: database reachable, audit logger running and, when configured, archive storage reachable.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, buffered, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
func readinessHandler(db Pinger, pipeline StatsSource, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}
		notReady := func(check, msg string) {
			checks[check] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  msg,
			})
		}

		if err := db.PingContext(ctx); err != nil {
			notReady("database", "database not ready")
			return
		}
		checks["database"] = "healthy"

		stats, err := pipeline.Stats(ctx)
		if err != nil {
			notReady("audit_logger", "audit logger not running")
			return
		}
		checks["audit_logger"] = "healthy"

		// A known-absent sentinel exercises credentials and connectivity without
		// creating state.
		if archive != nil {
			if _, err := archive.Exists(ctx, ".readiness-check"); err != nil {
				notReady("archive", "archive storage not ready")
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":      true,
			"checks":     checks,
			"buffered":   stats.Buffered,
			"chain_head": stats.ChainHead,
			"time":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
