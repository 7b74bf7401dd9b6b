// Package compliance is the read side of the audit trail: filtered queries with optional
// integrity re-verification, and framework compliance reports.
package compliance

import (
	"context"
	"log/slog"
	"time"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// EventReader reads persisted audit events.
type EventReader interface {
	Query(ctx context.Context, filter repositories.EventFilter) ([]*models.AuditEvent, error)
	Count(ctx context.Context, filter repositories.EventFilter) (int, error)
	Get(ctx context.Context, id string) (*models.AuditEvent, error)
	ListByFramework(ctx context.Context, framework string, start, end time.Time) ([]*models.AuditEvent, error)
}

// VerifiedEvent is an event with an optional integrity flag. The flag is omitted when
// verification was not requested.
type VerifiedEvent struct {
	*models.AuditEvent
	IntegrityVerified *bool `json:"integrity_verified,omitempty"`
}

// QueryResult is one page of events.
type QueryResult struct {
	Events []VerifiedEvent `json:"events"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	// IntegrityFailures counts returned rows whose hash did not verify.
	IntegrityFailures int `json:"integrity_failures,omitempty"`
}

// QueryService answers filtered event queries.
type QueryService struct {
	events    EventReader
	algorithm string
}

// NewQueryService creates a query service verifying with the given chain algorithm.
func NewQueryService(events EventReader, algorithm string) *QueryService {
	return &QueryService{events: events, algorithm: algorithm}
}

// Query returns the events matching filter. With verify set, each row's hash is
// recomputed and the result attached; a mismatching row is flagged, never hidden.
func (s *QueryService) Query(ctx context.Context, filter repositories.EventFilter, verify bool) (*QueryResult, error) {
	events, err := s.events.Query(ctx, filter)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "query", Err: err}
	}
	total, err := s.events.Count(ctx, filter)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "count", Err: err}
	}

	res := &QueryResult{
		Events: make([]VerifiedEvent, 0, len(events)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, e := range events {
		ve := s.wrap(e, verify)
		if ve.IntegrityVerified != nil && !*ve.IntegrityVerified {
			res.IntegrityFailures++
		}
		res.Events = append(res.Events, ve)
	}
	return res, nil
}

// Get returns a single event, or nil when it does not exist.
func (s *QueryService) Get(ctx context.Context, id string, verify bool) (*VerifiedEvent, error) {
	e, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "get", Err: err}
	}
	if e == nil {
		return nil, nil
	}
	ve := s.wrap(e, verify)
	return &ve, nil
}

func (s *QueryService) wrap(e *models.AuditEvent, verify bool) VerifiedEvent {
	ve := VerifiedEvent{AuditEvent: e}
	if !verify {
		return ve
	}
	ok := audit.VerifyEvent(s.algorithm, e)
	if !ok {
		telemetry.AuditIntegrityFailuresTotal.Inc()
		slog.Warn("audit event failed integrity verification", "event_id", e.ID, "sequence", e.Sequence)
	}
	ve.IntegrityVerified = &ok
	return ve
}
