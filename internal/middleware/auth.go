// Package middleware provides Gin HTTP middleware for the audit API: request ids,
// metrics, request logging, security headers, rate limiting, bearer authentication
// and scope checks.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → Scope → Handler
//
// Rejected credentials and missing scopes are recorded on the audit trail itself, so
// repeated failures raise the risk score of later attempts from the same caller.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	RolesKey      = "roles"
	ScopesKey     = "scopes"
	AuthMethodKey = "auth_method"
)

// EventLogger records audit events. *audit.Logger satisfies it.
type EventLogger interface {
	Log(ctx context.Context, e *audit.Event) (string, error)
}

// AuthMiddleware validates the bearer JWT and stores the caller identity in the
// context. events may be nil.
func AuthMiddleware(events EventLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			deny(c, events, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			deny(c, events, "Authorization header must start with 'Bearer '")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			deny(c, events, "Authorization token is empty")
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			deny(c, events, "Invalid or expired token")
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(UsernameKey, claims.Username)
		c.Set(RolesKey, claims.Roles)
		c.Set(ScopesKey, claims.Scopes)
		c.Set(AuthMethodKey, "jwt")
		c.Next()
	}
}

func deny(c *gin.Context, events EventLogger, message string) {
	recordDenial(c, events, &audit.Event{
		EventType:     audit.TypeAuthentication,
		EventCategory: audit.CategorySecurity,
		EventSeverity: models.SeverityWarning,
		EventName:     "api_authentication_failed",
		ActorType:     models.ActorAnonymous,
		ActionResult:  models.ResultFailure,
		ErrorCode:     "unauthorized",
		ErrorMessage:  message,
		HTTPStatus:    http.StatusUnauthorized,
	})
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

// recordDenial fills the request context of e and logs it. Logging failures are
// handled by the audit logger's fallback path and never change the response.
func recordDenial(c *gin.Context, events EventLogger, e *audit.Event) {
	if events == nil {
		return
	}
	e.Action = "access " + c.FullPath()
	if e.TargetType == "" {
		e.TargetType = "api_route"
	}
	e.TargetID = c.Request.Method + " " + c.FullPath()
	e.RequestID = c.GetString(RequestIDKey)
	e.IPAddress = c.ClientIP()
	e.UserAgent = c.Request.UserAgent()
	e.HTTPMethod = c.Request.Method
	e.HTTPPath = c.Request.URL.Path
	if start, ok := c.Get(requestStartKey); ok {
		e.LatencyMS = time.Since(start.(time.Time)).Milliseconds()
	}
	_, _ = events.Log(c.Request.Context(), e)
}

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// Username returns the authenticated username claim.
func Username(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

// Roles returns the authenticated roles claim.
func Roles(c *gin.Context) []string {
	return c.GetStringSlice(RolesKey)
}
