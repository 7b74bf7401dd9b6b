// audit_event_repository.go implements AuditEventRepository, the persistence collaborator of
// the audit pipeline: idempotent batch appends, filtered reads, recent-failure counts for
// risk scoring, chain pages and pruned links for verification, and the hot-to-archive move
// used by retention.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// eventColumns lists every persisted AuditEvent column except sequence, created_at and
// archived_at, which the database assigns.
var eventColumns = []string{
	"id", "event_id", "timestamp", "event_type", "event_category", "event_severity",
	"event_name", "event_description",
	"actor_type", "actor_id", "actor_username", "actor_roles",
	"target_type", "target_id", "target_name", "target_table",
	"action", "action_result", "error_code", "error_message",
	"before_value", "after_value", "changed_fields", "metadata",
	"request_id", "session_id", "ip_address", "user_agent",
	"http_method", "http_path", "http_status", "latency_ms",
	"data_sensitivity", "risk_score", "compliance_frameworks",
	"event_hash", "previous_hash",
	"legal_hold", "legal_hold_reason", "legal_hold_by", "legal_hold_at",
}

var (
	eventColumnList = strings.Join(eventColumns, ", ")
	selectColumns   = "sequence, " + eventColumnList + ", created_at"

	// allEventsSource reads the hot and archive tables as one relation.
	allEventsSource = fmt.Sprintf(`(
		SELECT %[1]s, NULL::timestamptz AS archived_at FROM audit_events
		UNION ALL
		SELECT %[1]s, archived_at FROM audit_events_archive
	) events`, selectColumns)

	insertEventQuery = fmt.Sprintf(
		`INSERT INTO audit_events (%s, created_at) VALUES (:%s, NOW()) ON CONFLICT (id) DO NOTHING`,
		eventColumnList, strings.Join(eventColumns, ", :"),
	)
)

// Default and maximum page sizes for Query.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// AuditEventRepository handles audit event database operations
type AuditEventRepository struct {
	db *sqlx.DB
}

// NewAuditEventRepository creates a new AuditEventRepository
func NewAuditEventRepository(db *sqlx.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// EventFilter is a conjunction of optional filters over audit events.
type EventFilter struct {
	StartTime     *time.Time
	EndTime       *time.Time
	EventType     string
	EventCategory string
	ActorID       string
	TargetID      string
	ActionResult  string
	IPAddress     string
	Framework     string
	MinRiskScore  *int
	MinSeverity   models.Severity
	// IncludeArchived extends the search to the archive table.
	IncludeArchived bool
	Limit           int
	Offset          int
}

func (f EventFilter) source() (columns, from string) {
	if f.IncludeArchived {
		return selectColumns + ", archived_at", allEventsSource
	}
	return selectColumns, "audit_events"
}

// whereClause accumulates AND-ed predicates with positional parameters.
type whereClause struct {
	parts []string
	args  []interface{}
}

func (w *whereClause) add(format string, arg interface{}) {
	w.args = append(w.args, arg)
	w.parts = append(w.parts, fmt.Sprintf(format, len(w.args)))
}

func (w *whereClause) String() string {
	if len(w.parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.parts, " AND ")
}

func (f EventFilter) where() *whereClause {
	w := &whereClause{}
	if f.StartTime != nil {
		w.add("timestamp >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		w.add("timestamp <= $%d", *f.EndTime)
	}
	if f.EventType != "" {
		w.add("event_type = $%d", f.EventType)
	}
	if f.EventCategory != "" {
		w.add("event_category = $%d", f.EventCategory)
	}
	if f.ActorID != "" {
		w.add("actor_id = $%d", f.ActorID)
	}
	if f.TargetID != "" {
		w.add("target_id = $%d", f.TargetID)
	}
	if f.ActionResult != "" {
		w.add("action_result = $%d", f.ActionResult)
	}
	if f.IPAddress != "" {
		w.add("ip_address = $%d", f.IPAddress)
	}
	if f.Framework != "" {
		w.add("$%d = ANY(compliance_frameworks)", f.Framework)
	}
	if f.MinRiskScore != nil {
		w.add("risk_score >= $%d", *f.MinRiskScore)
	}
	if f.MinSeverity != "" {
		var allowed []string
		for _, s := range []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityError, models.SeverityCritical, models.SeverityEmergency} {
			if s.AtLeast(f.MinSeverity) {
				allowed = append(allowed, string(s))
			}
		}
		w.add("event_severity = ANY($%d)", pq.Array(allowed))
	}
	return w
}

// AppendBatch inserts events in one transaction. Rows whose id already exists are skipped,
// so replaying a batch after an ambiguous failure is safe.
func (r *AuditEventRepository) AppendBatch(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		if _, err := tx.NamedExecContext(ctx, insertEventQuery, e); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, classifyWriteError(e.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// RejectedRowError marks a write the database refused because of the row's own content
// (a data exception, constraint violation or size limit). Retrying the same row fails
// again; other rows are unaffected.
type RejectedRowError struct {
	EventID string
	Err     error
}

func (e *RejectedRowError) Error() string {
	return fmt.Sprintf("event %s rejected by database: %v", e.EventID, e.Err)
}

func (e *RejectedRowError) Unwrap() error { return e.Err }

// Rejected reports that the failure is specific to the row.
func (e *RejectedRowError) Rejected() bool { return true }

// rejectedClasses are the SQLSTATE classes caused by row content: 22 data exception,
// 23 integrity constraint violation, 54 program limit exceeded.
var rejectedClasses = map[pq.ErrorClass]bool{"22": true, "23": true, "54": true}

func classifyWriteError(eventID string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && rejectedClasses[pqErr.Code.Class()] {
		return &RejectedRowError{EventID: eventID, Err: err}
	}
	return err
}

// Query returns events matching filter, newest first. Only the hot table is read unless
// filter.IncludeArchived is set.
func (r *AuditEventRepository) Query(ctx context.Context, filter EventFilter) ([]*models.AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	w := filter.where()
	args := append(w.args, limit, filter.Offset)
	columns, from := filter.source()
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY timestamp DESC, sequence DESC LIMIT $%d OFFSET $%d`,
		columns, from, w.String(), len(w.args)+1, len(w.args)+2)

	events := make([]*models.AuditEvent, 0)
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching filter (ignoring Limit/Offset).
func (r *AuditEventRepository) Count(ctx context.Context, filter EventFilter) (int, error) {
	w := filter.where()
	_, from := filter.source()
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM `+from+w.String(), w.args...); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return total, nil
}

// ListByFramework returns every retained event, hot or archived, tagged with framework in
// [start, end], in chain order.
func (r *AuditEventRepository) ListByFramework(ctx context.Context, framework string, start, end time.Time) ([]*models.AuditEvent, error) {
	query := fmt.Sprintf(`SELECT %s, archived_at FROM %s
		WHERE $1 = ANY(compliance_frameworks) AND timestamp >= $2 AND timestamp <= $3
		ORDER BY sequence`, selectColumns, allEventsSource)

	events := make([]*models.AuditEvent, 0)
	if err := r.db.SelectContext(ctx, &events, query, framework, start, end); err != nil {
		return nil, fmt.Errorf("list events for %s: %w", framework, err)
	}
	return events, nil
}

// Get retrieves a single event by id from the hot table, falling back to the archive.
// Returns nil, nil when the event does not exist.
func (r *AuditEventRepository) Get(ctx context.Context, id string) (*models.AuditEvent, error) {
	var e models.AuditEvent
	err := r.db.GetContext(ctx, &e, fmt.Sprintf(`SELECT %s FROM audit_events WHERE id = $1`, selectColumns), id)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get event: %w", err)
	}

	err = r.db.GetContext(ctx, &e, fmt.Sprintf(`SELECT %s, archived_at FROM audit_events_archive WHERE id = $1`, selectColumns), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archived event: %w", err)
	}
	return &e, nil
}

// CountRecentFailures counts failed authentication events since the given instant whose
// actor id or IP address matches. Empty keys never match.
func (r *AuditEventRepository) CountRecentFailures(ctx context.Context, actorID, ip string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM audit_events
		WHERE event_type = 'authentication'
		  AND action_result = 'failure'
		  AND timestamp >= $1
		  AND ((actor_id <> '' AND actor_id = $2) OR (ip_address <> '' AND ip_address = $3))
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, since, actorID, ip); err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return count, nil
}

// LastEventHash returns the event_hash of the most recently appended event across the hot
// and archive tables, or "" when no event has been persisted.
func (r *AuditEventRepository) LastEventHash(ctx context.Context) (string, error) {
	query := `
		SELECT event_hash FROM (
			SELECT event_hash, sequence FROM audit_events
			UNION ALL
			SELECT event_hash, sequence FROM audit_events_archive
		) chain
		ORDER BY sequence DESC
		LIMIT 1
	`
	var hash string
	err := r.db.GetContext(ctx, &hash, query)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load last event hash: %w", err)
	}
	return strings.TrimSpace(hash), nil
}

// ChainPage returns up to limit events with sequence greater than afterSequence, across
// the hot and archive tables, in sequence order.
func (r *AuditEventRepository) ChainPage(ctx context.Context, afterSequence int64, limit int) ([]*models.AuditEvent, error) {
	query := fmt.Sprintf(`
		SELECT * FROM (
			SELECT %[1]s, NULL::timestamptz AS archived_at FROM audit_events WHERE sequence > $1
			UNION ALL
			SELECT %[1]s, archived_at FROM audit_events_archive WHERE sequence > $1
		) chain
		ORDER BY sequence
		LIMIT $2
	`, selectColumns)

	events := make([]*models.AuditEvent, 0, limit)
	if err := r.db.SelectContext(ctx, &events, query, afterSequence, limit); err != nil {
		return nil, fmt.Errorf("load chain page: %w", err)
	}
	return events, nil
}

// ArchiveBatch moves up to limit hot events older than cutoff, not under legal hold, and
// matching eventType (all types when empty) into the archive table. Rows are locked, copied,
// then deleted from the hot table in one transaction. The moved rows are returned.
func (r *AuditEventRepository) ArchiveBatch(ctx context.Context, eventType string, cutoff time.Time, limit int) ([]*models.AuditEvent, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	w := &whereClause{}
	w.add("timestamp < $%d", cutoff)
	w.parts = append(w.parts, "legal_hold = false")
	if eventType != "" {
		w.add("event_type = $%d", eventType)
	}
	selectIDs := fmt.Sprintf(`SELECT id FROM audit_events%s ORDER BY sequence LIMIT $%d FOR UPDATE`, w.String(), len(w.args)+1)

	var ids []string
	if err := tx.SelectContext(ctx, &ids, selectIDs, append(w.args, limit)...); err != nil {
		return nil, fmt.Errorf("select archivable events: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	copyQuery := fmt.Sprintf(`
		INSERT INTO audit_events_archive (sequence, %[1]s, created_at, archived_at)
		SELECT sequence, %[1]s, created_at, NOW() FROM audit_events WHERE id = ANY($1)
		ON CONFLICT (id) DO NOTHING
		RETURNING %[2]s, archived_at
	`, eventColumnList, selectColumns)

	moved := make([]*models.AuditEvent, 0, len(ids))
	if err := tx.SelectContext(ctx, &moved, copyQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("copy events to archive: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_events WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("delete archived events from hot table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit archive: %w", err)
	}
	return moved, nil
}

// DeleteExpiredArchived permanently removes archived events older than cutoff that are not
// under legal hold and match eventType (all types when empty). Each deleted row leaves a
// pruned link in the same statement, so the chain stays verifiable across the gap.
func (r *AuditEventRepository) DeleteExpiredArchived(ctx context.Context, eventType string, cutoff time.Time) (int64, error) {
	w := &whereClause{}
	w.add("timestamp < $%d", cutoff)
	w.parts = append(w.parts, "legal_hold = false")
	if eventType != "" {
		w.add("event_type = $%d", eventType)
	}

	query := `WITH deleted AS (DELETE FROM audit_events_archive` + w.String() +
		` RETURNING id, sequence, event_type, event_hash, previous_hash)
		INSERT INTO audit_pruned_events (event_hash, previous_hash, id, sequence, event_type, reason)
		SELECT event_hash, previous_hash, id, sequence, event_type, '` + models.PruneRetention + `' FROM deleted
		ON CONFLICT (event_hash) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, w.args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired archived events: %w", err)
	}
	return res.RowsAffected()
}

const insertPrunedQuery = `
	INSERT INTO audit_pruned_events (event_hash, previous_hash, id, sequence, event_type, reason)
	VALUES (:event_hash, :previous_hash, :id, :sequence, :event_type, :reason)
	ON CONFLICT (event_hash) DO NOTHING`

// RecordPruned stores the links of events that never reached the table.
func (r *AuditEventRepository) RecordPruned(ctx context.Context, pruned []*models.PrunedEvent) error {
	if len(pruned) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record pruned: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range pruned {
		if _, err := tx.NamedExecContext(ctx, insertPrunedQuery, p); err != nil {
			return fmt.Errorf("record pruned event %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// maxBridgeDepth stops the pruned-link walk on a malformed (cyclic) ledger.
const maxBridgeDepth = 10_000_000

// BridgePruned follows pruned links from fromHash and returns how many pruned events lie
// between fromHash and toHash, or 0 when the pruned links do not connect them.
func (r *AuditEventRepository) BridgePruned(ctx context.Context, fromHash, toHash string) (int, error) {
	query := `
		WITH RECURSIVE walk (event_hash, depth) AS (
			SELECT event_hash, 1 FROM audit_pruned_events WHERE previous_hash = $1
			UNION ALL
			SELECT p.event_hash, w.depth + 1
			FROM audit_pruned_events p JOIN walk w ON p.previous_hash = w.event_hash
			WHERE w.event_hash <> $2 AND w.depth < $3
		)
		SELECT COALESCE(MIN(depth), 0) FROM walk WHERE event_hash = $2
	`
	var depth int
	if err := r.db.GetContext(ctx, &depth, query, fromHash, toHash, maxBridgeDepth); err != nil {
		return 0, fmt.Errorf("bridge pruned events: %w", err)
	}
	return depth, nil
}

// SetLegalHold places or releases a hold on an event in either table. It reports whether
// the event was found.
func (r *AuditEventRepository) SetLegalHold(ctx context.Context, hold models.LegalHold) (bool, error) {
	var (
		placedAt *time.Time
		reason   string
		by       string
	)
	if hold.Active {
		at := hold.PlacedAt
		placedAt = &at
		reason = hold.Reason
		by = hold.PlacedBy
	}

	for _, table := range []string{"audit_events", "audit_events_archive"} {
		query := fmt.Sprintf(`UPDATE %s SET legal_hold = $1, legal_hold_reason = $2, legal_hold_by = $3, legal_hold_at = $4 WHERE id = $5`, table)
		res, err := r.db.ExecContext(ctx, query, hold.Active, reason, by, placedAt, hold.EventID)
		if err != nil {
			return false, fmt.Errorf("update legal hold: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListLegalHolds returns every event currently under legal hold in either table.
func (r *AuditEventRepository) ListLegalHolds(ctx context.Context) ([]models.LegalHold, error) {
	query := `
		SELECT id, legal_hold_reason, legal_hold_by, COALESCE(legal_hold_at, created_at) AS legal_hold_at FROM audit_events WHERE legal_hold
		UNION ALL
		SELECT id, legal_hold_reason, legal_hold_by, COALESCE(legal_hold_at, created_at) AS legal_hold_at FROM audit_events_archive WHERE legal_hold
		ORDER BY legal_hold_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list legal holds: %w", err)
	}
	defer rows.Close()

	holds := make([]models.LegalHold, 0)
	for rows.Next() {
		h := models.LegalHold{Active: true}
		if err := rows.Scan(&h.EventID, &h.Reason, &h.PlacedBy, &h.PlacedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
