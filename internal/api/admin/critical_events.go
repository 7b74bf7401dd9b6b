// critical_events.go lists escalated critical events for a time range.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// CriticalEventReader reads critical events. *repositories.CriticalEventRepository
// satisfies it.
type CriticalEventReader interface {
	ListRange(ctx context.Context, start, end time.Time, limit int) ([]*models.CriticalEvent, error)
}

// CriticalEventHandlers handles critical event endpoints
type CriticalEventHandlers struct {
	reader CriticalEventReader
	now    func() time.Time
}

// NewCriticalEventHandlers creates a new CriticalEventHandlers instance
func NewCriticalEventHandlers(reader CriticalEventReader) *CriticalEventHandlers {
	return &CriticalEventHandlers{reader: reader, now: time.Now}
}

// @Summary      List critical events
// @Description  Lists critical events detected in [start, end], newest first. The range defaults to the last 24 hours. Requires audit:read scope.
// @Tags         Critical events
// @Security     Bearer
// @Produce      json
// @Param        start  query  string  false  "RFC3339 lower bound"
// @Param        end    query  string  false  "RFC3339 upper bound"
// @Param        limit  query  int     false  "Max rows, max 1000 (default 100)"
// @Success      200  {object}  map[string]interface{}  "critical_events: []models.CriticalEvent, start, end"
// @Failure      400  {object}  map[string]interface{}  "Invalid range"
// @Router       /api/v1/audit/critical-events [get]
// ListHandler lists critical events
// GET /api/v1/audit/critical-events
func (h *CriticalEventHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		end := h.now().UTC()
		if s := c.Query("end"); s != "" {
			t, err := parseTime(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end: expected RFC3339 or YYYY-MM-DD"})
				return
			}
			end = t
		}
		start := end.Add(-24 * time.Hour)
		if s := c.Query("start"); s != "" {
			t, err := parseTime(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start: expected RFC3339 or YYYY-MM-DD"})
				return
			}
			start = t
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end is before start"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}

		events, err := h.reader.ListRange(c.Request.Context(), start, end, min(limit, maxPageSize))
		if err != nil {
			writeError(c, err, "Failed to list critical events")
			return
		}
		if events == nil {
			events = []*models.CriticalEvent{}
		}
		c.JSON(http.StatusOK, gin.H{
			"critical_events": events,
			"start":           start.UTC(),
			"end":             end.UTC(),
		})
	}
}
