package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// RequireScope checks if authenticated user has the required scope. Denials are
// logged as authorization failures when events is non-nil.
func RequireScope(scope auth.Scope, events EventLogger) gin.HandlerFunc {
	return RequireAnyScope(events, scope)
}

// RequireAnyScope checks if authenticated user has at least one of the required scopes
func RequireAnyScope(events EventLogger, scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes := c.GetStringSlice(ScopesKey)
		if auth.HasAnyScope(userScopes, scopes) {
			c.Next()
			return
		}

		required := make([]string, len(scopes))
		for i, s := range scopes {
			required[i] = string(s)
		}
		// Denials on admin-only routes target "admin".
		target := "admin"
		for _, s := range scopes {
			if s != auth.ScopeAuditAdmin {
				target = "api_route"
			}
		}
		recordDenial(c, events, &audit.Event{
			EventType:     audit.TypeAuthorization,
			EventCategory: audit.CategorySecurity,
			EventSeverity: models.SeverityWarning,
			EventName:     "api_authorization_failed",
			TargetType:    target,
			ActorType:     models.ActorUser,
			ActorID:       UserID(c),
			ActorUsername: Username(c),
			ActorRoles:    Roles(c),
			ActionResult:  models.ResultFailure,
			ErrorCode:     "forbidden",
			ErrorMessage:  "missing required scope",
			HTTPStatus:    http.StatusForbidden,
			Metadata: map[string]interface{}{
				"required_scopes": required,
				"granted_scopes":  userScopes,
			},
		})

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "Missing required scope",
			"details": "Required scope: " + required[0],
		})
	}
}
