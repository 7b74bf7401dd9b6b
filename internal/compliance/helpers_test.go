package compliance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

var (
	errReadFailed = errors.New("read failed")
	periodStart   = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd     = time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
)

// fakeEvents is an in-memory EventReader. Query ignores the filter beyond limit/offset.
type fakeEvents struct {
	events []*models.AuditEvent
	err    error
}

func (f *fakeEvents) Query(_ context.Context, filter repositories.EventFilter) ([]*models.AuditEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.events
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeEvents) Count(context.Context, repositories.EventFilter) (int, error) {
	return len(f.events), f.err
}

func (f *fakeEvents) Get(_ context.Context, id string) (*models.AuditEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, e := range f.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) ListByFramework(_ context.Context, framework string, start, end time.Time) ([]*models.AuditEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.AuditEvent
	for _, e := range f.events {
		if e.HasFramework(framework) && !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCriticals struct {
	events []*models.CriticalEvent
	err    error
}

func (f *fakeCriticals) ListRange(context.Context, time.Time, time.Time, int) ([]*models.CriticalEvent, error) {
	return f.events, f.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (l *recordingLogger) Log(_ context.Context, e *audit.Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return "logged", l.err
}

// chained links events in order with the default algorithm.
func chained(t *testing.T, events ...*models.AuditEvent) []*models.AuditEvent {
	t.Helper()
	c, err := audit.NewChainer("", "")
	require.NoError(t, err)
	for i, e := range events {
		e.Sequence = int64(i + 1)
		require.NoError(t, c.Link(e))
	}
	return events
}

func event(id, eventType, result string, frameworks ...string) *models.AuditEvent {
	return &models.AuditEvent{
		ID:                   id,
		EventID:              "evt_" + id,
		Timestamp:            periodStart.Add(24 * time.Hour),
		EventType:            eventType,
		EventCategory:        audit.CategoryData,
		EventSeverity:        models.SeverityInfo,
		EventName:            eventType,
		ActorType:            models.ActorUser,
		ActorID:              "user-1",
		Action:               "read",
		ActionResult:         result,
		TargetID:             "target-" + id,
		ComplianceFrameworks: frameworks,
	}
}
