package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// ErrEventNotFound is returned when a legal hold targets an unknown event.
var ErrEventNotFound = errors.New("audit event not found")

// PlaceHold puts eventID under legal hold. The change is itself audited.
func (m *RetentionManager) PlaceHold(ctx context.Context, eventID, reason, placedBy string) (*models.LegalHold, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &audit.ValidationError{Missing: []string{"reason"}}
	}
	hold := models.LegalHold{
		EventID:  eventID,
		Reason:   reason,
		PlacedBy: placedBy,
		PlacedAt: m.now().UTC(),
		Active:   true,
	}
	if err := m.setHold(ctx, hold, "place_legal_hold"); err != nil {
		return nil, err
	}
	return &hold, nil
}

// ReleaseHold removes the legal hold from eventID. The change is itself audited.
func (m *RetentionManager) ReleaseHold(ctx context.Context, eventID, reason, releasedBy string) error {
	return m.setHold(ctx, models.LegalHold{
		EventID:  eventID,
		Reason:   reason,
		PlacedBy: releasedBy,
		PlacedAt: m.now().UTC(),
	}, "release_legal_hold")
}

// ListHolds returns every event currently under legal hold.
func (m *RetentionManager) ListHolds(ctx context.Context) ([]models.LegalHold, error) {
	holds, err := m.store.ListLegalHolds(ctx)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "list legal holds", Err: err}
	}
	return holds, nil
}

func (m *RetentionManager) setHold(ctx context.Context, hold models.LegalHold, action string) error {
	found, err := m.store.SetLegalHold(ctx, hold)
	switch {
	case err != nil:
		err = &audit.PersistenceError{Op: action, Err: err}
	case !found:
		err = fmt.Errorf("%w: %s", ErrEventNotFound, hold.EventID)
	}
	m.recordHold(ctx, hold, action, err)
	return err
}

// recordHold logs the hold change at error severity, one step below the level that
// raises a critical event.
func (m *RetentionManager) recordHold(ctx context.Context, hold models.LegalHold, action string, cause error) {
	if m.logger == nil {
		return
	}
	result := models.ResultSuccess
	var errMsg string
	if cause != nil {
		result, errMsg = models.ResultFailure, cause.Error()
	}
	actorType := models.ActorUser
	if hold.PlacedBy == "" {
		actorType = models.ActorSystem
	}

	_, err := m.logger.Log(ctx, &audit.Event{
		EventType:     audit.TypeCompliance,
		EventCategory: audit.CategoryCompliance,
		EventSeverity: models.SeverityError,
		EventName:     action,
		ActorType:     actorType,
		ActorID:       hold.PlacedBy,
		TargetType:    "audit_event",
		TargetID:      hold.EventID,
		TargetTable:   "legal_holds",
		Action:        action,
		ActionResult:  result,
		ErrorMessage:  errMsg,
		Metadata:      map[string]interface{}{"reason": hold.Reason},
	})
	if err != nil {
		slog.Error("failed to record legal hold change", "event_id", hold.EventID, "action", action, "error", err)
	}
}
