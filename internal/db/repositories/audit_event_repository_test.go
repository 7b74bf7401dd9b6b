package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

var errDB = errors.New("db error")

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func newEventRepo(t *testing.T) (*AuditEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewAuditEventRepository(db), mock
}

// Minimal column set for struct scanning
var eventRowCols = []string{
	"sequence", "id", "event_id", "timestamp", "event_type", "event_category",
	"event_severity", "event_name", "actor_type", "actor_id", "actor_roles",
	"action", "action_result", "metadata", "risk_score", "compliance_frameworks",
	"event_hash", "previous_hash", "legal_hold", "created_at",
}

var fixedTime = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func sampleEventRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows(eventRowCols)
	for i, id := range ids {
		rows.AddRow(int64(i+1), id, "EVT-"+id, fixedTime, "authentication", "security",
			"warning", "login", "user", "user-1", []byte("{admin}"),
			"login", "failure", []byte(`{"record_count":5}`), 40, []byte("{sox,iso27001}"),
			"hash-"+id, "prev-"+id, false, fixedTime)
	}
	return rows
}

func sampleEvent(id string) *models.AuditEvent {
	return &models.AuditEvent{
		ID:            id,
		EventID:       "EVT-" + id,
		Timestamp:     fixedTime,
		EventType:     "authentication",
		EventCategory: "security",
		EventSeverity: models.SeverityWarning,
		EventName:     "login",
		ActorType:     models.ActorUser,
		ActorID:       "user-1",
		ActorRoles:    []string{"admin"},
		Action:        "login",
		ActionResult:  models.ResultFailure,
		Metadata:      models.JSONMap{"k": "v"},
		EventHash:     "hash-" + id,
	}
}

// ---------------------------------------------------------------------------
// AppendBatch
// ---------------------------------------------------------------------------

func TestAppendBatch_Success(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_events .*ON CONFLICT \\(id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.AppendBatch(context.Background(), []*models.AuditEvent{sampleEvent("a"), sampleEvent("b")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendBatch_Empty(t *testing.T) {
	repo, mock := newEventRepo(t)
	if err := repo.AppendBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendBatch_InsertErrorRollsBack(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errDB)
	mock.ExpectRollback()

	err := repo.AppendBatch(context.Background(), []*models.AuditEvent{sampleEvent("a"), sampleEvent("b")})
	if !errors.Is(err, errDB) {
		t.Fatalf("err = %v, want wrapped errDB", err)
	}
	var rejected *RejectedRowError
	if errors.As(err, &rejected) {
		t.Errorf("a connection-level error must not be classified as a rejected row")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendBatch_ClassifiesRejectedRow(t *testing.T) {
	tests := []struct {
		code     pq.ErrorCode
		rejected bool
	}{
		{"22001", true},  // string_data_right_truncation
		{"22021", true},  // character_not_in_repertoire
		{"23514", true},  // check_violation
		{"54000", true},  // program_limit_exceeded
		{"08006", false}, // connection_failure
		{"57014", false}, // query_canceled
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			repo, mock := newEventRepo(t)
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO audit_events").WillReturnError(&pq.Error{Code: tt.code})
			mock.ExpectRollback()

			err := repo.AppendBatch(context.Background(), []*models.AuditEvent{sampleEvent("a")})
			var rejected *RejectedRowError
			if got := errors.As(err, &rejected); got != tt.rejected {
				t.Fatalf("rejected = %v, want %v (err %v)", got, tt.rejected, err)
			}
			if tt.rejected && (rejected.EventID != "a" || !rejected.Rejected()) {
				t.Errorf("rejected = %+v", rejected)
			}
		})
	}
}

func TestAppendBatch_BeginError(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectBegin().WillReturnError(errDB)
	if err := repo.AppendBatch(context.Background(), []*models.AuditEvent{sampleEvent("a")}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Query / Count
// ---------------------------------------------------------------------------

func TestQuery_NoFilters(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("SELECT sequence, id.*FROM audit_events ORDER BY timestamp DESC").
		WithArgs(DefaultQueryLimit, 0).
		WillReturnRows(sampleEventRows("a", "b"))

	events, err := repo.Query(context.Background(), EventFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	e := events[0]
	if e.ID != "a" || e.Sequence != 1 || e.EventSeverity != models.SeverityWarning {
		t.Errorf("unexpected event: %+v", e)
	}
	if len(e.ActorRoles) != 1 || e.ActorRoles[0] != "admin" {
		t.Errorf("ActorRoles = %v", e.ActorRoles)
	}
	if !e.HasFramework("iso27001") {
		t.Errorf("ComplianceFrameworks = %v", e.ComplianceFrameworks)
	}
	if e.RecordCount() != 5 {
		t.Errorf("RecordCount() = %d, want 5", e.RecordCount())
	}
}

func TestQuery_WithFilters(t *testing.T) {
	repo, mock := newEventRepo(t)
	start := fixedTime.Add(-time.Hour)
	minRisk := 50
	mock.ExpectQuery(`FROM audit_events WHERE timestamp >= \$1 AND event_type = \$2 AND actor_id = \$3 AND action_result = \$4 AND risk_score >= \$5 ORDER BY`).
		WithArgs(start, "authentication", "user-1", "failure", 50, 10, 20).
		WillReturnRows(sampleEventRows("a"))

	events, err := repo.Query(context.Background(), EventFilter{
		StartTime:    &start,
		EventType:    "authentication",
		ActorID:      "user-1",
		ActionResult: "failure",
		MinRiskScore: &minRisk,
		Limit:        10,
		Offset:       20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("len(events) = %d, want 1", len(events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQuery_LimitCapped(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("FROM audit_events").
		WithArgs(MaxQueryLimit, 0).
		WillReturnRows(sqlmock.NewRows(eventRowCols))

	if _, err := repo.Query(context.Background(), EventFilter{Limit: 1_000_000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQuery_MinSeverityAndFramework(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery(`WHERE \$1 = ANY\(compliance_frameworks\) AND event_severity = ANY\(\$2\)`).
		WithArgs("gdpr", `{"critical","emergency"}`, DefaultQueryLimit, 0).
		WillReturnRows(sqlmock.NewRows(eventRowCols))

	_, err := repo.Query(context.Background(), EventFilter{Framework: "gdpr", MinSeverity: models.SeverityCritical})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQuery_DBError(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("FROM audit_events").WillReturnError(errDB)
	if _, err := repo.Query(context.Background(), EventFilter{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestQuery_IncludeArchived(t *testing.T) {
	repo, mock := newEventRepo(t)
	start := fixedTime.AddDate(-2, 0, 0)
	cols := append(append([]string{}, eventRowCols...), "archived_at")
	mock.ExpectQuery(`SELECT sequence, .*, archived_at FROM \( SELECT .* FROM audit_events UNION ALL SELECT .* FROM audit_events_archive \) events WHERE timestamp >= \$1 ORDER BY timestamp DESC`).
		WithArgs(start, DefaultQueryLimit, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "old", "EVT-old", start, "authentication", "security", "info", "login", "user", "u", nil, "login", "success", nil, 0, nil, "h1", "", false, start, fixedTime))

	events, err := repo.Query(context.Background(), EventFilter{StartTime: &start, IncludeArchived: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].ArchivedAt == nil {
		t.Fatalf("events = %+v, want one archived event", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCount(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_events WHERE event_category = \$1`).
		WithArgs("security").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := repo.Count(context.Background(), EventFilter{EventCategory: "security"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("Count = %d, want 7", n)
	}
}

func TestCount_IncludeArchived(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \( SELECT .* UNION ALL SELECT .* FROM audit_events_archive \) events WHERE event_type = \$1`).
		WithArgs("authentication").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := repo.Count(context.Background(), EventFilter{EventType: "authentication", IncludeArchived: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 12 {
		t.Errorf("Count = %d, want 12", n)
	}
}

func TestListByFramework(t *testing.T) {
	repo, mock := newEventRepo(t)
	// A period older than the archive threshold is answered from the archive table.
	end := fixedTime.AddDate(-1, -6, 0)
	start := end.AddDate(0, -1, 0)
	cols := append(append([]string{}, eventRowCols...), "archived_at")
	mock.ExpectQuery(`FROM audit_events UNION ALL SELECT .* FROM audit_events_archive \) events WHERE \$1 = ANY\(compliance_frameworks\).*ORDER BY sequence`).
		WithArgs("sox", start, end).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "a", "EVT-a", start, "authentication", "security", "info", "login", "user", "u", nil, "login", "success", nil, 0, []byte("{sox}"), "h1", "", false, start, fixedTime).
			AddRow(int64(2), "b", "EVT-b", start, "configuration", "system", "info", "update", "user", "u", nil, "update", "success", nil, 0, []byte("{sox}"), "h2", "h1", false, start, fixedTime).
			AddRow(int64(3), "c", "EVT-c", end, "authentication", "security", "info", "login", "user", "u", nil, "login", "success", nil, 0, []byte("{sox}"), "h3", "h2", true, start, nil))

	events, err := repo.ListByFramework(context.Background(), "sox", start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].ArchivedAt == nil || events[2].ArchivedAt != nil {
		t.Errorf("archived_at not carried through: %v, %v", events[0].ArchivedAt, events[2].ArchivedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGet_FromHotTable(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("FROM audit_events WHERE id").
		WithArgs("a").
		WillReturnRows(sampleEventRows("a"))

	e, err := repo.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || e.ID != "a" {
		t.Errorf("Get() = %+v", e)
	}
}

func TestGet_FallsBackToArchive(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("FROM audit_events WHERE id").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(eventRowCols))
	cols := append(append([]string{}, eventRowCols...), "archived_at")
	mock.ExpectQuery("FROM audit_events_archive WHERE id").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), "a", "EVT-a", fixedTime, "system", "system",
			"info", "boot", "system", "", nil, "start", "success", nil, 0, nil,
			"hash-a", "", false, fixedTime, fixedTime))

	e, err := repo.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || e.ArchivedAt == nil {
		t.Fatalf("Get() = %+v, want archived event", e)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("FROM audit_events WHERE id").WillReturnRows(sqlmock.NewRows(eventRowCols))
	mock.ExpectQuery("FROM audit_events_archive WHERE id").WillReturnRows(sqlmock.NewRows(eventRowCols))

	e, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Errorf("Get() = %+v, want nil", e)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("FROM audit_events WHERE id").WillReturnError(errDB)
	if _, err := repo.Get(context.Background(), "a"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// CountRecentFailures / LastEventHash / ChainPage
// ---------------------------------------------------------------------------

func TestCountRecentFailures(t *testing.T) {
	repo, mock := newEventRepo(t)
	since := fixedTime.Add(-time.Hour)
	mock.ExpectQuery(`event_type = 'authentication'.*action_result = 'failure'`).
		WithArgs(since, "user-1", "10.0.0.5").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.CountRecentFailures(context.Background(), "user-1", "10.0.0.5", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("CountRecentFailures = %d, want 4", n)
	}
}

func TestCountRecentFailures_DBError(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)
	if _, err := repo.CountRecentFailures(context.Background(), "u", "", fixedTime); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

func TestLastEventHash(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("SELECT event_hash FROM").
		WillReturnRows(sqlmock.NewRows([]string{"event_hash"}).AddRow("abc123"))

	h, err := repo.LastEventHash(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != "abc123" {
		t.Errorf("LastEventHash = %q, want abc123", h)
	}
}

func TestLastEventHash_EmptyChain(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("SELECT event_hash FROM").
		WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))

	h, err := repo.LastEventHash(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != "" {
		t.Errorf("LastEventHash = %q, want empty", h)
	}
}

func TestChainPage(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("UNION ALL.*ORDER BY sequence LIMIT").
		WithArgs(int64(10), 500).
		WillReturnRows(sampleEventRows("a", "b"))

	page, err := repo.ChainPage(context.Background(), 10, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("len(page) = %d, want 2", len(page))
	}
}

// ---------------------------------------------------------------------------
// ArchiveBatch / DeleteExpiredArchived
// ---------------------------------------------------------------------------

func TestArchiveBatch_NothingToMove(t *testing.T) {
	repo, mock := newEventRepo(t)
	cutoff := fixedTime
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM audit_events WHERE timestamp < \$1 AND legal_hold = false ORDER BY sequence LIMIT \$2 FOR UPDATE`).
		WithArgs(cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	moved, err := repo.ArchiveBatch(context.Background(), "", cutoff, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(moved) != 0 {
		t.Errorf("moved = %d, want 0", len(moved))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveBatch_CopiesThenDeletes(t *testing.T) {
	repo, mock := newEventRepo(t)
	cutoff := fixedTime
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM audit_events WHERE timestamp < \$1 AND legal_hold = false AND event_type = \$2`).
		WithArgs(cutoff, "authentication", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))
	cols := append(append([]string{}, eventRowCols...), "archived_at")
	mock.ExpectQuery("INSERT INTO audit_events_archive .* ON CONFLICT \\(id\\) DO NOTHING RETURNING").
		WithArgs("{\"a\",\"b\"}").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "a", "EVT-a", fixedTime, "authentication", "security", "info", "login", "user", "u", nil, "login", "success", nil, 0, nil, "h1", "", false, fixedTime, fixedTime).
			AddRow(int64(2), "b", "EVT-b", fixedTime, "authentication", "security", "info", "login", "user", "u", nil, "login", "success", nil, 0, nil, "h2", "h1", false, fixedTime, fixedTime))
	mock.ExpectExec(`DELETE FROM audit_events WHERE id = ANY\(\$1\)`).
		WithArgs("{\"a\",\"b\"}").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	moved, err := repo.ArchiveBatch(context.Background(), "authentication", cutoff, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(moved) != 2 || moved[1].PreviousHash != "h1" {
		t.Errorf("moved = %+v", moved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveBatch_CopyErrorRollsBack(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))
	mock.ExpectQuery("INSERT INTO audit_events_archive").WillReturnError(errDB)
	mock.ExpectRollback()

	if _, err := repo.ArchiveBatch(context.Background(), "", fixedTime, 10); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeleteExpiredArchived(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec(`WITH deleted AS \(DELETE FROM audit_events_archive WHERE timestamp < \$1 AND legal_hold = false RETURNING .*\) INSERT INTO audit_pruned_events .* 'retention' FROM deleted`).
		WithArgs(fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpiredArchived(context.Background(), "", fixedTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
}

func TestDeleteExpiredArchived_Scoped(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec(`legal_hold = false AND event_type = \$2`).
		WithArgs(fixedTime, "system").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := repo.DeleteExpiredArchived(context.Background(), "system", fixedTime); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecordPruned(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_pruned_events .* ON CONFLICT \(event_hash\) DO NOTHING`).
		WithArgs("hash-a", "prev-a", "a", nil, "authentication", models.PruneRejected).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RecordPruned(context.Background(), []*models.PrunedEvent{
		models.PrunedFrom(&models.AuditEvent{ID: "a", EventType: "authentication", EventHash: "hash-a", PreviousHash: "prev-a"}, models.PruneRejected),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBridgePruned(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery(`WITH RECURSIVE walk`).
		WithArgs("h1", "h4", maxBridgeDepth).
		WillReturnRows(sqlmock.NewRows([]string{"depth"}).AddRow(2))

	n, err := repo.BridgePruned(context.Background(), "h1", "h4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("bridged = %d, want 2", n)
	}
}

func TestBridgePruned_DBError(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery(`WITH RECURSIVE walk`).WillReturnError(errDB)
	if _, err := repo.BridgePruned(context.Background(), "h1", "h4"); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

// ---------------------------------------------------------------------------
// Legal holds
// ---------------------------------------------------------------------------

func TestSetLegalHold_HotTable(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec("UPDATE audit_events SET legal_hold").
		WithArgs(true, "litigation", "counsel", sqlmock.AnyArg(), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.SetLegalHold(context.Background(), models.LegalHold{
		EventID: "a", Reason: "litigation", PlacedBy: "counsel", PlacedAt: fixedTime, Active: true,
	})
	if err != nil || !found {
		t.Fatalf("SetLegalHold = %v, %v", found, err)
	}
}

func TestSetLegalHold_ArchiveTable(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec("UPDATE audit_events SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE audit_events_archive SET").WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.SetLegalHold(context.Background(), models.LegalHold{EventID: "a", Active: false})
	if err != nil || !found {
		t.Fatalf("SetLegalHold = %v, %v", found, err)
	}
}

func TestSetLegalHold_NotFound(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec("UPDATE audit_events SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE audit_events_archive SET").WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.SetLegalHold(context.Background(), models.LegalHold{EventID: "zzz", Active: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestListLegalHolds(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("WHERE legal_hold.*UNION ALL").
		WillReturnRows(sqlmock.NewRows([]string{"id", "legal_hold_reason", "legal_hold_by", "legal_hold_at"}).
			AddRow("a", "litigation", "counsel", fixedTime))

	holds, err := repo.ListLegalHolds(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(holds) != 1 || holds[0].EventID != "a" || !holds[0].Active {
		t.Errorf("holds = %+v", holds)
	}
}
