// critical_event_repository.go implements CriticalEventRepository. Critical events are
// insert-only; there is no update or delete path.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// CriticalEventRepository handles critical event database operations
type CriticalEventRepository struct {
	db *sqlx.DB
}

// NewCriticalEventRepository creates a new CriticalEventRepository
func NewCriticalEventRepository(db *sqlx.DB) *CriticalEventRepository {
	return &CriticalEventRepository{db: db}
}

// Create stores a critical event.
func (r *CriticalEventRepository) Create(ctx context.Context, ce *models.CriticalEvent) error {
	query := `
		INSERT INTO critical_events (
			id, audit_event_id, threat_type, threat_level, detection_rule,
			detection_score, confidence_level, actor_id, ip_address, action, target_id, detected_at
		) VALUES (
			:id, :audit_event_id, :threat_type, :threat_level, :detection_rule,
			:detection_score, :confidence_level, :actor_id, :ip_address, :action, :target_id, :detected_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, ce); err != nil {
		return fmt.Errorf("insert critical event: %w", err)
	}
	return nil
}

// ListRange returns critical events detected in [start, end], newest first.
func (r *CriticalEventRepository) ListRange(ctx context.Context, start, end time.Time, limit int) ([]*models.CriticalEvent, error) {
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	query := `
		SELECT id, audit_event_id, threat_type, threat_level, detection_rule,
		       detection_score, confidence_level, actor_id, ip_address, action, target_id, detected_at
		FROM critical_events
		WHERE detected_at >= $1 AND detected_at <= $2
		ORDER BY detected_at DESC
		LIMIT $3
	`
	events := make([]*models.CriticalEvent, 0)
	if err := r.db.SelectContext(ctx, &events, query, start, end, limit); err != nil {
		return nil, fmt.Errorf("list critical events: %w", err)
	}
	return events, nil
}
