package compliance

import (
	"sort"
	"strings"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// EventSet is the evidence a requirement is evaluated against.
type EventSet struct {
	Events    []*models.AuditEvent
	Algorithm string
}

// CountType returns the number of events of the given type.
func (s *EventSet) CountType(eventType string) int {
	n := 0
	for _, e := range s.Events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// Any reports whether at least one event satisfies pred.
func (s *EventSet) Any(pred func(*models.AuditEvent) bool) bool {
	for _, e := range s.Events {
		if pred(e) {
			return true
		}
	}
	return false
}

// All reports whether every event satisfying filter also satisfies pred. It is
// vacuously true when no event matches filter.
func (s *EventSet) All(filter, pred func(*models.AuditEvent) bool) bool {
	for _, e := range s.Events {
		if filter(e) && !pred(e) {
			return false
		}
	}
	return true
}

// Requirement is a named predicate over an event set.
type Requirement struct {
	ID          string
	Name        string
	Description string
	Check       func(*EventSet) bool
}

// Framework is an ordered checklist of requirements plus the event types its evidence
// is expected to contain.
type Framework struct {
	Name               string
	Title              string
	RequiredEventTypes []string
	Requirements       []Requirement
}

func ofType(t string) func(*models.AuditEvent) bool {
	return func(e *models.AuditEvent) bool { return e.EventType == t }
}

func hasType(t string) func(*EventSet) bool {
	return func(s *EventSet) bool { return s.CountType(t) > 0 }
}

func attributed(e *models.AuditEvent) bool {
	return e.ActorID != "" || e.ActorType == models.ActorSystem
}

func hasChangeRecord(e *models.AuditEvent) bool {
	return len(e.ChangedFields) > 0 || e.BeforeValue != nil || e.AfterValue != nil
}

func intact(s *EventSet) bool {
	for _, e := range s.Events {
		if !audit.VerifyEvent(s.Algorithm, e) {
			return false
		}
	}
	return true
}

var registry = map[string]*Framework{
	audit.FrameworkGDPR: {
		Name:  audit.FrameworkGDPR,
		Title: "General Data Protection Regulation",
		RequiredEventTypes: []string{
			audit.TypeDataAccess, audit.TypeDataModification, audit.TypeDataExport, audit.TypeDataDeletion,
		},
		Requirements: []Requirement{
			{
				ID: "gdpr-access-tracking", Name: "Personal data access is tracked",
				Description: "At least one data access event was recorded in the period.",
				Check:       hasType(audit.TypeDataAccess),
			},
			{
				ID: "gdpr-modification-history", Name: "Modifications record what changed",
				Description: "Every data modification event carries changed fields or before/after values.",
				Check: func(s *EventSet) bool {
					return s.CountType(audit.TypeDataModification) > 0 &&
						s.All(ofType(audit.TypeDataModification), hasChangeRecord)
				},
			},
			{
				ID: "gdpr-erasure-tracking", Name: "Erasure requests are tracked",
				Description: "At least one data deletion event was recorded in the period.",
				Check:       hasType(audit.TypeDataDeletion),
			},
			{
				ID: "gdpr-export-attribution", Name: "Exports are attributed",
				Description: "Every data export event identifies the acting user.",
				Check:       func(s *EventSet) bool { return s.All(ofType(audit.TypeDataExport), attributed) },
			},
		},
	},
	audit.FrameworkSOX: {
		Name:  audit.FrameworkSOX,
		Title: "Sarbanes-Oxley IT general controls",
		RequiredEventTypes: []string{
			audit.TypeAuthentication, audit.TypeAuthorization, audit.TypeConfiguration,
		},
		Requirements: []Requirement{
			{
				ID: "sox-access-logging", Name: "Access attempts are logged",
				Description: "At least one authentication event was recorded in the period.",
				Check:       hasType(audit.TypeAuthentication),
			},
			{
				ID: "sox-authorization-tracking", Name: "Authorization decisions are logged",
				Description: "At least one authorization event was recorded in the period.",
				Check:       hasType(audit.TypeAuthorization),
			},
			{
				ID: "sox-change-management", Name: "Configuration changes are logged",
				Description: "At least one configuration change event was recorded in the period.",
				Check:       hasType(audit.TypeConfiguration),
			},
			{
				ID: "sox-change-attribution", Name: "Changes are attributed",
				Description: "Every configuration change identifies the acting user or system.",
				Check:       func(s *EventSet) bool { return s.All(ofType(audit.TypeConfiguration), attributed) },
			},
		},
	},
	audit.FrameworkISO27001: {
		Name:               audit.FrameworkISO27001,
		Title:              "ISO/IEC 27001 Annex A logging and monitoring",
		RequiredEventTypes: []string{audit.TypeAuthentication, audit.TypeSystem},
		Requirements: []Requirement{
			{
				ID: "iso-security-event-logging", Name: "Security events are logged",
				Description: "At least one security category event was recorded in the period.",
				Check: func(s *EventSet) bool {
					return s.Any(func(e *models.AuditEvent) bool { return e.EventCategory == audit.CategorySecurity })
				},
			},
			{
				ID: "iso-privileged-activity", Name: "Privileged activity is attributed",
				Description: "Every error-or-worse event identifies the acting user or system.",
				Check: func(s *EventSet) bool {
					return s.All(func(e *models.AuditEvent) bool { return e.EventSeverity.AtLeast(models.SeverityError) }, attributed)
				},
			},
			{
				ID: "iso-log-integrity", Name: "Log records are protected from tampering",
				Description: "Every event in the period passes hash verification.",
				Check:       intact,
			},
		},
	},
}

// Lookup returns the framework registered under name (case-insensitive).
func Lookup(name string) (*Framework, bool) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Names returns the registered framework names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
