// legal_holds.go implements placing, releasing and listing legal holds. Every change
// is audited by the retention manager.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/middleware"
)

// HoldManager places and releases legal holds. *jobs.RetentionManager satisfies it.
type HoldManager interface {
	PlaceHold(ctx context.Context, eventID, reason, placedBy string) (*models.LegalHold, error)
	ReleaseHold(ctx context.Context, eventID, reason, releasedBy string) error
	ListHolds(ctx context.Context) ([]models.LegalHold, error)
}

// LegalHoldHandlers handles legal hold endpoints
type LegalHoldHandlers struct {
	holds HoldManager
}

// NewLegalHoldHandlers creates a new LegalHoldHandlers instance
func NewLegalHoldHandlers(holds HoldManager) *LegalHoldHandlers {
	return &LegalHoldHandlers{holds: holds}
}

// LegalHoldRequest carries the justification for a hold change.
type LegalHoldRequest struct {
	Reason string `json:"reason"`
}

// @Summary      Place legal hold
// @Description  Exempts an event from retention deletion until the hold is released. Requires audit:admin scope.
// @Tags         Legal holds
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Event ID"
// @Param        body  body  LegalHoldRequest  true  "Reason"
// @Success      201  {object}  models.LegalHold
// @Failure      400  {object}  map[string]interface{}  "Reason missing"
// @Failure      404  {object}  map[string]interface{}  "Event not found"
// @Router       /api/v1/audit/events/{id}/legal-hold [post]
// PlaceHoldHandler places a legal hold
// POST /api/v1/audit/events/:id/legal-hold
func (h *LegalHoldHandlers) PlaceHoldHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LegalHoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		hold, err := h.holds.PlaceHold(c.Request.Context(), c.Param("id"), req.Reason, middleware.UserID(c))
		if err != nil {
			writeError(c, err, "Failed to place legal hold")
			return
		}
		c.JSON(http.StatusCreated, hold)
	}
}

// @Summary      Release legal hold
// @Description  Makes an event eligible for retention deletion again. Requires audit:admin scope.
// @Tags         Legal holds
// @Security     Bearer
// @Param        id      path   string  true   "Event ID"
// @Param        reason  query  string  false  "Reason for the release"
// @Success      204
// @Failure      404  {object}  map[string]interface{}  "Event not found"
// @Router       /api/v1/audit/events/{id}/legal-hold [delete]
// ReleaseHoldHandler releases a legal hold
// DELETE /api/v1/audit/events/:id/legal-hold
func (h *LegalHoldHandlers) ReleaseHoldHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.holds.ReleaseHold(c.Request.Context(), c.Param("id"), c.Query("reason"), middleware.UserID(c)); err != nil {
			writeError(c, err, "Failed to release legal hold")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary      List legal holds
// @Description  Lists every event currently under legal hold. Requires audit:admin scope.
// @Tags         Legal holds
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "legal_holds: []models.LegalHold"
// @Router       /api/v1/audit/legal-holds [get]
// ListHoldsHandler lists active holds
// GET /api/v1/audit/legal-holds
func (h *LegalHoldHandlers) ListHoldsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		holds, err := h.holds.ListHolds(c.Request.Context())
		if err != nil {
			writeError(c, err, "Failed to list legal holds")
			return
		}
		if holds == nil {
			holds = []models.LegalHold{}
		}
		c.JSON(http.StatusOK, gin.H{"legal_holds": holds})
	}
}
