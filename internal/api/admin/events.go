// events.go implements event submission and the filtered, optionally verified, event
// query endpoints.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/compliance"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// EventQuerier is the read side used by the event handlers.
type EventQuerier interface {
	Query(ctx context.Context, filter repositories.EventFilter, verify bool) (*compliance.QueryResult, error)
	Get(ctx context.Context, id string, verify bool) (*compliance.VerifiedEvent, error)
}

// EventHandlers handles audit event endpoints
type EventHandlers struct {
	logger EventLogger
	query  EventQuerier
}

// NewEventHandlers creates a new EventHandlers instance
func NewEventHandlers(logger EventLogger, query EventQuerier) *EventHandlers {
	return &EventHandlers{logger: logger, query: query}
}

// @Summary      Log an audit event
// @Description  Validates, enriches, scores and chains an event, then buffers it for persistence. Requires audit:write scope.
// @Tags         Events
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  audit.Event  true  "Event"
// @Success      201  {object}  map[string]interface{}  "id: string"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      503  {object}  map[string]interface{}  "Audit trail closed"
// @Router       /api/v1/audit/events [post]
// CreateEventHandler logs an event
// POST /api/v1/audit/events
func (h *EventHandlers) CreateEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev audit.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		id, err := h.logger.Log(c.Request.Context(), &ev)
		if err != nil {
			writeError(c, err, "Failed to log audit event")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// @Summary      Query audit events
// @Description  Lists events matching every supplied filter, newest first. verify=true recomputes each event hash. Requires audit:read scope.
// @Tags         Events
// @Security     Bearer
// @Produce      json
// @Param        start           query  string  false  "RFC3339 lower bound"
// @Param        end             query  string  false  "RFC3339 upper bound"
// @Param        event_type      query  string  false  "Event type"
// @Param        event_category  query  string  false  "Event category"
// @Param        actor_id        query  string  false  "Actor id"
// @Param        target_id       query  string  false  "Target id"
// @Param        action_result   query  string  false  "success or failure"
// @Param        ip_address      query  string  false  "Client IP"
// @Param        framework       query  string  false  "Compliance framework tag"
// @Param        min_risk_score  query  int     false  "Minimum risk score"
// @Param        min_severity    query  string  false  "Minimum severity"
// @Param        limit           query  int     false  "Page size, max 1000 (default 100)"
// @Param        offset          query  int     false  "Offset"
// @Param        verify            query  bool    false  "Attach integrity flags"
// @Param        include_archived  query  bool    false  "Also search archived events"
// @Success      200  {object}  compliance.QueryResult
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit/events [get]
// ListEventsHandler queries events
// GET /api/v1/audit/events
func (h *EventHandlers) ListEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseEventFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		verify, _ := strconv.ParseBool(c.Query("verify"))

		result, err := h.query.Query(c.Request.Context(), filter, verify)
		if err != nil {
			writeError(c, err, "Failed to query audit events")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// @Summary      Get audit event
// @Description  Returns one event with its integrity flag. Requires audit:read scope.
// @Tags         Events
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Event ID"
// @Success      200  {object}  compliance.VerifiedEvent
// @Failure      404  {object}  map[string]interface{}  "Event not found"
// @Router       /api/v1/audit/events/{id} [get]
// GetEventHandler returns a single event
// GET /api/v1/audit/events/:id
func (h *EventHandlers) GetEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		verify := true
		if v, err := strconv.ParseBool(c.DefaultQuery("verify", "true")); err == nil {
			verify = v
		}

		ev, err := h.query.Get(c.Request.Context(), c.Param("id"), verify)
		if err != nil {
			writeError(c, err, "Failed to retrieve audit event")
			return
		}
		if ev == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit event not found"})
			return
		}
		c.JSON(http.StatusOK, ev)
	}
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseEventFilter(c *gin.Context) (repositories.EventFilter, error) {
	f := repositories.EventFilter{
		EventType:     c.Query("event_type"),
		EventCategory: c.Query("event_category"),
		ActorID:       c.Query("actor_id"),
		TargetID:      c.Query("target_id"),
		ActionResult:  c.Query("action_result"),
		IPAddress:     c.Query("ip_address"),
		Framework:     strings.ToLower(c.Query("framework")),
		Limit:         defaultPageSize,
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &f.StartTime}, {"end", &f.EndTime}} {
		if s := c.Query(p.name); s != "" {
			t, err := parseTime(s)
			if err != nil {
				return f, filterError("invalid " + p.name + ": expected RFC3339 or YYYY-MM-DD")
			}
			*p.dst = &t
		}
	}
	if f.StartTime != nil && f.EndTime != nil && f.EndTime.Before(*f.StartTime) {
		return f, filterError("end is before start")
	}

	if s := c.Query("min_risk_score"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 100 {
			return f, filterError("min_risk_score must be an integer between 0 and 100")
		}
		f.MinRiskScore = &n
	}
	if s := c.Query("min_severity"); s != "" {
		sev := models.Severity(strings.ToLower(s))
		if !sev.Valid() {
			return f, filterError("unknown min_severity: " + s)
		}
		f.MinSeverity = sev
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return f, filterError("limit must be a positive integer")
		}
		f.Limit = min(n, maxPageSize)
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, filterError("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	if s := c.Query("include_archived"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return f, filterError("include_archived must be a boolean")
		}
		f.IncludeArchived = v
	}
	return f, nil
}
