// retention_policy_repository.go implements RetentionPolicyRepository, providing CRUD for
// retention policies and the priority-ordered listing used by the retention manager.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

const policyColumns = `id, name, description, event_type, archive_after_days, delete_after_days,
	priority, is_active, created_at, updated_at`

// RetentionPolicyRepository handles retention policy database operations
type RetentionPolicyRepository struct {
	db *sqlx.DB
}

// NewRetentionPolicyRepository creates a new RetentionPolicyRepository
func NewRetentionPolicyRepository(db *sqlx.DB) *RetentionPolicyRepository {
	return &RetentionPolicyRepository{db: db}
}

// ListActive returns active policies in evaluation order: priority DESC, then name.
func (r *RetentionPolicyRepository) ListActive(ctx context.Context) ([]*models.RetentionPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM retention_policies WHERE is_active = true ORDER BY priority DESC, name ASC`
	policies := make([]*models.RetentionPolicy, 0)
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, fmt.Errorf("list active retention policies: %w", err)
	}
	return policies, nil
}

// List returns all policies, active or not, in evaluation order.
func (r *RetentionPolicyRepository) List(ctx context.Context) ([]*models.RetentionPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM retention_policies ORDER BY priority DESC, name ASC`
	policies := make([]*models.RetentionPolicy, 0)
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	return policies, nil
}

// Get returns a policy by id, or nil, nil when not found.
func (r *RetentionPolicyRepository) Get(ctx context.Context, id string) (*models.RetentionPolicy, error) {
	var p models.RetentionPolicy
	err := r.db.GetContext(ctx, &p, `SELECT `+policyColumns+` FROM retention_policies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retention policy: %w", err)
	}
	return &p, nil
}

// Create inserts a new policy, assigning its id and timestamps.
func (r *RetentionPolicyRepository) Create(ctx context.Context, p *models.RetentionPolicy) error {
	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO retention_policies (` + policyColumns + `)
		VALUES (:id, :name, :description, :event_type, :archive_after_days, :delete_after_days,
		        :priority, :is_active, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create retention policy: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a policy. It reports whether the policy existed.
func (r *RetentionPolicyRepository) Update(ctx context.Context, p *models.RetentionPolicy) (bool, error) {
	p.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE retention_policies
		SET name = :name, description = :description, event_type = :event_type,
		    archive_after_days = :archive_after_days, delete_after_days = :delete_after_days,
		    priority = :priority, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return false, fmt.Errorf("update retention policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a policy. It reports whether the policy existed.
func (r *RetentionPolicyRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM retention_policies WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete retention policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
