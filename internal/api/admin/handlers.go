// Package admin implements the /api/v1/audit HTTP handlers. Each handler group holds
// the narrow collaborator interfaces it needs, so tests can substitute fakes for the
// audit logger, the query service, the reporter and the retention manager.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/compliance"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/jobs"
	"github.com/audit-trail/audit-trail/internal/middleware"
)

// EventLogger records audit events. *audit.Logger satisfies it.
type EventLogger interface {
	Log(ctx context.Context, e *audit.Event) (string, error)
}

// writeError maps pipeline errors to HTTP statuses. Unexpected errors are logged and
// answered with fallback so internal details never reach the client.
func writeError(c *gin.Context, err error, fallback string) {
	var verr *audit.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "missing": verr.Missing})
	case errors.Is(err, jobs.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit event not found"})
	case errors.Is(err, compliance.ErrUnknownFramework),
		errors.Is(err, compliance.ErrInvalidPeriod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrRetentionRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "A retention run is already in progress"})
	case errors.Is(err, audit.ErrLoggerClosed), errors.Is(err, audit.ErrNotRecorded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Audit trail is not accepting events"})
	default:
		slog.Error(fallback, "error", err, "path", c.FullPath(),
			"request_id", c.GetString(middleware.RequestIDKey))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// parseTime accepts RFC3339 timestamps and plain dates (midnight UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// actorEvent fills the caller identity and request context of e from c.
func actorEvent(c *gin.Context, e *audit.Event) *audit.Event {
	e.ActorType = models.ActorUser
	e.ActorID = middleware.UserID(c)
	e.ActorUsername = middleware.Username(c)
	e.ActorRoles = middleware.Roles(c)
	e.RequestID = c.GetString(middleware.RequestIDKey)
	e.IPAddress = c.ClientIP()
	e.UserAgent = c.Request.UserAgent()
	e.HTTPMethod = c.Request.Method
	e.HTTPPath = c.Request.URL.Path
	return e
}

// toMap converts v to a JSON object for before/after change payloads.
func toMap(v interface{}) map[string]interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
