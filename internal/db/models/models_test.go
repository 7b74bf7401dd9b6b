package models

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Severity
// ---------------------------------------------------------------------------

func TestSeverity_Ordering(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical, SeverityEmergency}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if Severity("fatal").Valid() {
		t.Error("unknown severity should not be valid")
	}
	if !SeverityEmergency.AtLeast(SeverityCritical) {
		t.Error("emergency should be at least critical")
	}
	if SeverityError.AtLeast(SeverityCritical) {
		t.Error("error should not be at least critical")
	}
	if Severity("").AtLeast(SeverityInfo) {
		t.Error("empty severity should not satisfy AtLeast")
	}
}

// ---------------------------------------------------------------------------
// JSONMap
// ---------------------------------------------------------------------------

func TestJSONMap_ValueAndScan(t *testing.T) {
	m := JSONMap{"name": "alice", "count": float64(3)}
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var got JSONMap
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got["name"] != "alice" || got["count"] != float64(3) {
		t.Errorf("scanned map = %v", got)
	}
}

func TestJSONMap_NilHandling(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	if err != nil || v != nil {
		t.Errorf("nil map Value() = %v, %v; want nil, nil", v, err)
	}
	got := JSONMap{"x": 1}
	if err := got.Scan(nil); err != nil || got != nil {
		t.Errorf("Scan(nil) left %v, err %v", got, err)
	}
	if err := got.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

// ---------------------------------------------------------------------------
// AuditEvent helpers
// ---------------------------------------------------------------------------

func TestAuditEvent_RecordCount(t *testing.T) {
	tests := []struct {
		name string
		meta JSONMap
		want int
	}{
		{"nil metadata", nil, 0},
		{"int", JSONMap{"record_count": 1500}, 1500},
		{"float from json", JSONMap{"record_count": float64(20000)}, 20000},
		{"json number", JSONMap{"record_count": json.Number("42")}, 42},
		{"wrong type", JSONMap{"record_count": "many"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &AuditEvent{Metadata: tt.meta}
			if got := e.RecordCount(); got != tt.want {
				t.Errorf("RecordCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuditEvent_HasFramework(t *testing.T) {
	e := &AuditEvent{ComplianceFrameworks: []string{"gdpr", "sox"}}
	if !e.HasFramework("sox") {
		t.Error("expected sox tag")
	}
	if e.HasFramework("iso27001") {
		t.Error("unexpected iso27001 tag")
	}
}

// ---------------------------------------------------------------------------
// RetentionPolicy
// ---------------------------------------------------------------------------

func TestRetentionPolicy_Matches(t *testing.T) {
	scope := "authentication"
	scoped := &RetentionPolicy{EventType: &scope}
	if !scoped.Matches("authentication") || scoped.Matches("data_access") {
		t.Error("scoped policy matched the wrong event types")
	}
	unscoped := &RetentionPolicy{}
	if !unscoped.Matches("anything") {
		t.Error("unscoped policy should match every type")
	}
	if unscoped.Scope() != "" || scoped.Scope() != "authentication" {
		t.Error("Scope() returned unexpected value")
	}
}

func TestRetentionPolicy_Cutoffs(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := &RetentionPolicy{ArchiveAfterDays: 30, DeleteAfterDays: 365}
	if got := p.ArchiveCutoff(now); !got.Equal(now.AddDate(0, 0, -30)) {
		t.Errorf("ArchiveCutoff = %v", got)
	}
	if got := p.DeleteCutoff(now); !got.Equal(now.AddDate(0, 0, -365)) {
		t.Errorf("DeleteCutoff = %v", got)
	}

	// Deletion age shorter than archive age: archive uses the deletion age.
	p = &RetentionPolicy{ArchiveAfterDays: 90, DeleteAfterDays: 0}
	if got := p.ArchiveCutoff(now); !got.Equal(now) {
		t.Errorf("ArchiveCutoff with delete_after_days=0 = %v, want now", got)
	}
}
