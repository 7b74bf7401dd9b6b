package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// Requirement and report statuses
const (
	StatusCompliant    = "compliant"
	StatusNonCompliant = "non-compliant"
)

const (
	highRiskScore        = 70
	failureRateThreshold = 0.10
	criticalEventLimit   = 1000
)

var (
	// ErrUnknownFramework is returned for a framework name with no registered checklist.
	ErrUnknownFramework = errors.New("unknown compliance framework")
	// ErrInvalidPeriod is returned when the report period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid report period")
)

// CriticalReader lists critical events detected in a time range.
type CriticalReader interface {
	ListRange(ctx context.Context, start, end time.Time, limit int) ([]*models.CriticalEvent, error)
}

// EventLogger records an audit event. *audit.Logger satisfies it.
type EventLogger interface {
	Log(ctx context.Context, e *audit.Event) (string, error)
}

// Summary aggregates the events in a report period.
type Summary struct {
	TotalEvents    int            `json:"total_events"`
	ByType         map[string]int `json:"by_type"`
	BySeverity     map[string]int `json:"by_severity"`
	ByResult       map[string]int `json:"by_result"`
	FailureRate    float64        `json:"failure_rate"`
	HighRiskEvents int            `json:"high_risk_events"`
	CriticalEvents int            `json:"critical_events"`
}

// RequirementResult is one evaluated checklist entry.
type RequirementResult struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Report is a framework compliance assessment for a period.
type Report struct {
	ID              string                  `json:"id"`
	Framework       string                  `json:"framework"`
	Title           string                  `json:"title"`
	PeriodStart     time.Time               `json:"period_start"`
	PeriodEnd       time.Time               `json:"period_end"`
	GeneratedAt     time.Time               `json:"generated_at"`
	GeneratedBy     string                  `json:"generated_by,omitempty"`
	Status          string                  `json:"status"`
	Summary         Summary                 `json:"summary"`
	CriticalEvents  []*models.CriticalEvent `json:"critical_events"`
	HighRiskEvents  []*models.AuditEvent    `json:"high_risk_events"`
	Requirements    []RequirementResult     `json:"requirements"`
	Recommendations []string                `json:"recommendations"`
}

// Reporter generates compliance reports.
type Reporter struct {
	events    EventReader
	criticals CriticalReader
	logger    EventLogger
	algorithm string
	now       func() time.Time
}

// NewReporter creates a reporter. logger may be nil, in which case report generation
// is not recorded.
func NewReporter(events EventReader, criticals CriticalReader, logger EventLogger, algorithm string) *Reporter {
	return &Reporter{
		events:    events,
		criticals: criticals,
		logger:    logger,
		algorithm: algorithm,
		now:       time.Now,
	}
}

// Generate assesses the events tagged with framework in [start, end]. Failed
// requirements appear as non-compliant entries; only an unknown framework or a read
// failure is returned as an error.
func (r *Reporter) Generate(ctx context.Context, framework string, start, end time.Time, requestedBy string) (*Report, error) {
	fw, ok := Lookup(framework)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFramework, framework)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidPeriod, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	events, err := r.events.ListByFramework(ctx, fw.Name, start, end)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "list by framework", Err: err}
	}
	criticals, err := r.criticals.ListRange(ctx, start, end, criticalEventLimit)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "list critical events", Err: err}
	}

	set := &EventSet{Events: events, Algorithm: r.algorithm}
	report := &Report{
		ID:             uuid.NewString(),
		Framework:      fw.Name,
		Title:          fw.Title,
		PeriodStart:    start.UTC(),
		PeriodEnd:      end.UTC(),
		GeneratedAt:    r.now().UTC(),
		GeneratedBy:    requestedBy,
		Status:         StatusCompliant,
		CriticalEvents: relatedCriticals(events, criticals),
		HighRiskEvents: []*models.AuditEvent{},
	}
	report.Summary = summarize(events)
	report.Summary.CriticalEvents = len(report.CriticalEvents)
	for _, e := range events {
		if e.RiskScore >= highRiskScore {
			report.HighRiskEvents = append(report.HighRiskEvents, e)
		}
	}

	for _, req := range fw.Requirements {
		res := RequirementResult{ID: req.ID, Name: req.Name, Description: req.Description, Status: StatusCompliant}
		if !req.Check(set) {
			res.Status = StatusNonCompliant
			report.Status = StatusNonCompliant
		}
		report.Requirements = append(report.Requirements, res)
	}
	report.Recommendations = recommend(fw, set, report)

	r.record(ctx, report)
	return report, nil
}

func summarize(events []*models.AuditEvent) Summary {
	s := Summary{
		TotalEvents: len(events),
		ByType:      map[string]int{},
		BySeverity:  map[string]int{},
		ByResult:    map[string]int{},
	}
	failures := 0
	for _, e := range events {
		s.ByType[e.EventType]++
		s.BySeverity[string(e.EventSeverity)]++
		s.ByResult[e.ActionResult]++
		if e.IsFailure() {
			failures++
		}
		if e.RiskScore >= highRiskScore {
			s.HighRiskEvents++
		}
	}
	if len(events) > 0 {
		s.FailureRate = float64(failures) / float64(len(events))
	}
	return s
}

// relatedCriticals keeps the critical events whose source event is in the report set.
func relatedCriticals(events []*models.AuditEvent, criticals []*models.CriticalEvent) []*models.CriticalEvent {
	ids := make(map[string]bool, len(events))
	for _, e := range events {
		ids[e.ID] = true
	}
	out := []*models.CriticalEvent{}
	for _, ce := range criticals {
		if ids[ce.AuditEventID] {
			out = append(out, ce)
		}
	}
	return out
}

func recommend(fw *Framework, set *EventSet, report *Report) []string {
	recs := []string{}

	var missing []string
	for _, t := range fw.RequiredEventTypes {
		if set.CountType(t) == 0 {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	for _, t := range missing {
		recs = append(recs, fmt.Sprintf("No %s events were recorded; confirm %s activity is being audited.", t, t))
	}

	if report.Summary.FailureRate > failureRateThreshold {
		recs = append(recs, fmt.Sprintf("Failure rate is %.1f%%, above the %.0f%% threshold; review failed actions for misuse or misconfiguration.",
			report.Summary.FailureRate*100, failureRateThreshold*100))
	}
	if n := len(report.CriticalEvents); n > 0 {
		recs = append(recs, fmt.Sprintf("%d critical event(s) were detected in the period; confirm each has been investigated.", n))
	}
	for _, req := range report.Requirements {
		if req.Status == StatusNonCompliant {
			recs = append(recs, fmt.Sprintf("Requirement %q is not met: %s", req.Name, req.Description))
		}
	}
	return recs
}

func (r *Reporter) record(ctx context.Context, report *Report) {
	if r.logger == nil {
		return
	}
	actorID := report.GeneratedBy
	actorType := models.ActorUser
	if actorID == "" {
		actorType = models.ActorSystem
	}
	_, err := r.logger.Log(ctx, &audit.Event{
		EventType:        audit.TypeCompliance,
		EventCategory:    audit.CategoryCompliance,
		EventSeverity:    models.SeverityInfo,
		EventName:        "compliance_report_generated",
		EventDescription: fmt.Sprintf("%s compliance report generated", report.Framework),
		ActorType:        actorType,
		ActorID:          actorID,
		TargetType:       "compliance_report",
		TargetID:         report.ID,
		TargetTable:      "compliance_reports",
		Action:           "generate_report",
		ActionResult:     models.ResultSuccess,
		Metadata: map[string]interface{}{
			"framework":    report.Framework,
			"period_start": report.PeriodStart.Format(time.RFC3339),
			"period_end":   report.PeriodEnd.Format(time.RFC3339),
			"status":       report.Status,
			"total_events": report.Summary.TotalEvents,
		},
		ComplianceFrameworks: []string{report.Framework},
	})
	if err != nil {
		slog.Error("failed to record compliance report generation", "report_id", report.ID, "error", err)
	}
}
