// retention.go implements retention policy CRUD and on-demand retention runs. Policy
// changes are audited here; runs are audited by the retention manager.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/jobs"
	"github.com/audit-trail/audit-trail/internal/middleware"
)

// PolicyStore persists retention policies. *repositories.RetentionPolicyRepository
// satisfies it.
type PolicyStore interface {
	List(ctx context.Context) ([]*models.RetentionPolicy, error)
	Get(ctx context.Context, id string) (*models.RetentionPolicy, error)
	Create(ctx context.Context, p *models.RetentionPolicy) error
	Update(ctx context.Context, p *models.RetentionPolicy) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// RetentionRunner runs retention on demand. *jobs.RetentionManager satisfies it.
type RetentionRunner interface {
	Run(ctx context.Context, triggeredBy string) (*jobs.RunResult, error)
}

// RetentionHandlers handles retention endpoints
type RetentionHandlers struct {
	policies PolicyStore
	runner   RetentionRunner
	logger   EventLogger
}

// NewRetentionHandlers creates a new RetentionHandlers instance. logger may be nil.
func NewRetentionHandlers(policies PolicyStore, runner RetentionRunner, logger EventLogger) *RetentionHandlers {
	return &RetentionHandlers{policies: policies, runner: runner, logger: logger}
}

// PolicyRequest is the body of policy create and update requests.
type PolicyRequest struct {
	Name             string  `json:"name" binding:"required"`
	Description      *string `json:"description"`
	EventType        *string `json:"event_type"`
	ArchiveAfterDays *int    `json:"archive_after_days" binding:"required"`
	DeleteAfterDays  *int    `json:"delete_after_days" binding:"required"`
	Priority         int     `json:"priority"`
	IsActive         *bool   `json:"is_active"`
}

func (r *PolicyRequest) apply(p *models.RetentionPolicy) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name must not be blank")
	}
	if *r.ArchiveAfterDays < 0 || *r.DeleteAfterDays < 0 {
		return fmt.Errorf("archive_after_days and delete_after_days must not be negative")
	}
	p.Name = strings.TrimSpace(r.Name)
	p.Description = r.Description
	p.EventType = r.EventType
	if p.EventType != nil && strings.TrimSpace(*p.EventType) == "" {
		p.EventType = nil
	}
	p.ArchiveAfterDays = *r.ArchiveAfterDays
	p.DeleteAfterDays = *r.DeleteAfterDays
	p.Priority = r.Priority
	p.IsActive = r.IsActive == nil || *r.IsActive
	return nil
}

// @Summary      List retention policies
// @Tags         Retention
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "policies: []models.RetentionPolicy"
// @Router       /api/v1/audit/retention/policies [get]
// ListPoliciesHandler lists all policies, highest priority first
// GET /api/v1/audit/retention/policies
func (h *RetentionHandlers) ListPoliciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policies, err := h.policies.List(c.Request.Context())
		if err != nil {
			writeError(c, err, "Failed to list retention policies")
			return
		}
		if policies == nil {
			policies = []*models.RetentionPolicy{}
		}
		c.JSON(http.StatusOK, gin.H{"policies": policies})
	}
}

// @Summary      Get retention policy
// @Tags         Retention
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Policy ID"
// @Success      200  {object}  models.RetentionPolicy
// @Failure      404  {object}  map[string]interface{}  "Policy not found"
// @Router       /api/v1/audit/retention/policies/{id} [get]
// GetPolicyHandler returns one policy
// GET /api/v1/audit/retention/policies/:id
func (h *RetentionHandlers) GetPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.policies.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, "Failed to retrieve retention policy")
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// @Summary      Create retention policy
// @Tags         Retention
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  PolicyRequest  true  "Policy"
// @Success      201  {object}  models.RetentionPolicy
// @Failure      400  {object}  map[string]interface{}  "Invalid policy"
// @Router       /api/v1/audit/retention/policies [post]
// CreatePolicyHandler creates a policy
// POST /api/v1/audit/retention/policies
func (h *RetentionHandlers) CreatePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		var p models.RetentionPolicy
		if err := req.apply(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := h.policies.Create(c.Request.Context(), &p)
		h.recordChange(c, "create_retention_policy", p.ID, nil, &p, err)
		if err != nil {
			writeError(c, err, "Failed to create retention policy")
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// @Summary      Update retention policy
// @Tags         Retention
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string         true  "Policy ID"
// @Param        body  body  PolicyRequest  true  "Policy"
// @Success      200  {object}  models.RetentionPolicy
// @Failure      404  {object}  map[string]interface{}  "Policy not found"
// @Router       /api/v1/audit/retention/policies/{id} [put]
// UpdatePolicyHandler replaces a policy
// PUT /api/v1/audit/retention/policies/:id
func (h *RetentionHandlers) UpdatePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		before, err := h.policies.Get(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err, "Failed to retrieve retention policy")
			return
		}
		if before == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}

		after := *before
		if err := req.apply(&after); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		found, err := h.policies.Update(ctx, &after)
		if err == nil && !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}
		h.recordChange(c, "update_retention_policy", after.ID, before, &after, err)
		if err != nil {
			writeError(c, err, "Failed to update retention policy")
			return
		}
		c.JSON(http.StatusOK, after)
	}
}

// @Summary      Delete retention policy
// @Tags         Retention
// @Security     Bearer
// @Param        id  path  string  true  "Policy ID"
// @Success      204
// @Failure      404  {object}  map[string]interface{}  "Policy not found"
// @Router       /api/v1/audit/retention/policies/{id} [delete]
// DeletePolicyHandler deletes a policy
// DELETE /api/v1/audit/retention/policies/:id
func (h *RetentionHandlers) DeletePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		before, err := h.policies.Get(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err, "Failed to retrieve retention policy")
			return
		}
		if before == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}

		found, err := h.policies.Delete(ctx, before.ID)
		if err == nil && !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}
		h.recordChange(c, "delete_retention_policy", before.ID, before, nil, err)
		if err != nil {
			writeError(c, err, "Failed to delete retention policy")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary      Run retention now
// @Description  Applies every active policy once. Returns 409 while another run is in progress. Requires audit:admin scope.
// @Tags         Retention
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  jobs.RunResult
// @Failure      409  {object}  map[string]interface{}  "Run in progress"
// @Router       /api/v1/audit/retention/run [post]
// RunHandler triggers a retention run
// POST /api/v1/audit/retention/run
func (h *RetentionHandlers) RunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.runner.Run(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err, "Retention run failed")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// recordChange audits a policy mutation with its before and after values.
func (h *RetentionHandlers) recordChange(c *gin.Context, action, policyID string, before, after *models.RetentionPolicy, cause error) {
	if h.logger == nil {
		return
	}
	e := actorEvent(c, &audit.Event{
		EventType:     audit.TypeConfiguration,
		EventCategory: audit.CategoryCompliance,
		EventSeverity: models.SeverityWarning,
		EventName:     "retention_policy_changed",
		TargetType:    "retention_policy",
		TargetID:      policyID,
		TargetTable:   "retention_policies",
		Action:        action,
		ActionResult:  models.ResultSuccess,
		ComplianceFrameworks: []string{
			audit.FrameworkGDPR, audit.FrameworkSOX, audit.FrameworkISO27001,
		},
	})
	if cause != nil {
		e.ActionResult = models.ResultFailure
		e.ErrorMessage = cause.Error()
	}
	if before != nil {
		e.BeforeValue = toMap(before)
		e.TargetName = before.Name
	}
	if after != nil {
		e.AfterValue = toMap(after)
		e.TargetName = after.Name
	}
	e.ChangedFields = changedFields(e.BeforeValue, e.AfterValue)
	_, _ = h.logger.Log(c.Request.Context(), e)
}

// changedFields lists the keys whose values differ, ignoring bookkeeping timestamps.
func changedFields(before, after map[string]interface{}) []string {
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	var out []string
	for k := range keys {
		if k == "updated_at" || k == "created_at" {
			continue
		}
		if fmt.Sprint(before[k]) != fmt.Sprint(after[k]) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
