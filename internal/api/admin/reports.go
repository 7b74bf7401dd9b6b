// reports.go exposes compliance report generation and the framework registry.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/compliance"
	"github.com/audit-trail/audit-trail/internal/middleware"
)

// ReportGenerator produces compliance reports. *compliance.Reporter satisfies it.
type ReportGenerator interface {
	Generate(ctx context.Context, framework string, start, end time.Time, requestedBy string) (*compliance.Report, error)
}

// ReportHandlers handles compliance report endpoints
type ReportHandlers struct {
	reports ReportGenerator
}

// NewReportHandlers creates a new ReportHandlers instance
func NewReportHandlers(reports ReportGenerator) *ReportHandlers {
	return &ReportHandlers{reports: reports}
}

// GenerateReportRequest selects the framework and period of a report.
type GenerateReportRequest struct {
	Framework string `json:"framework" binding:"required"`
	Start     string `json:"start" binding:"required"`
	End       string `json:"end" binding:"required"`
}

// @Summary      Generate compliance report
// @Description  Assesses the events tagged with a framework over a period. Generation is itself audited. Requires audit:read scope.
// @Tags         Compliance
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  GenerateReportRequest  true  "Framework and period"
// @Success      201  {object}  compliance.Report
// @Failure      400  {object}  map[string]interface{}  "Unknown framework or invalid period"
// @Router       /api/v1/audit/reports [post]
// GenerateHandler generates a report
// POST /api/v1/audit/reports
func (h *ReportHandlers) GenerateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		start, err := parseTime(req.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start: expected RFC3339 or YYYY-MM-DD"})
			return
		}
		end, err := parseTime(req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end: expected RFC3339 or YYYY-MM-DD"})
			return
		}

		report, err := h.reports.Generate(c.Request.Context(), req.Framework, start, end, middleware.UserID(c))
		if err != nil {
			writeError(c, err, "Failed to generate compliance report")
			return
		}
		c.JSON(http.StatusCreated, report)
	}
}

// @Summary      List compliance frameworks
// @Tags         Compliance
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "frameworks: []object"
// @Router       /api/v1/audit/reports/frameworks [get]
// FrameworksHandler lists the registered frameworks and their requirements
// GET /api/v1/audit/reports/frameworks
func (h *ReportHandlers) FrameworksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]gin.H, 0)
		for _, name := range compliance.Names() {
			fw, _ := compliance.Lookup(name)
			reqs := make([]gin.H, 0, len(fw.Requirements))
			for _, r := range fw.Requirements {
				reqs = append(reqs, gin.H{"id": r.ID, "name": r.Name, "description": r.Description})
			}
			out = append(out, gin.H{
				"name":                 fw.Name,
				"title":                fw.Title,
				"required_event_types": fw.RequiredEventTypes,
				"requirements":         reqs,
			})
		}
		c.JSON(http.StatusOK, gin.H{"frameworks": out})
	}
}
