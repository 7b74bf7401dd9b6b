// Package models - audit_event.go defines the AuditEvent row stored in the hot
// (audit_events) and cold (audit_events_archive) tables, together with the ordered
// severity scale and the JSONB map type used for change payloads.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Severity is the ordered event severity: info < warning < error < critical < emergency.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

var severityRank = map[Severity]int{
	SeverityInfo:      0,
	SeverityWarning:   1,
	SeverityError:     2,
	SeverityCritical:  3,
	SeverityEmergency: 4,
}

// Rank returns the position of s on the severity scale, or -1 when s is unknown.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Valid() && s.Rank() >= other.Rank()
}

// Action results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Actor types
const (
	ActorSystem    = "system"
	ActorUser      = "user"
	ActorAnonymous = "anonymous"
)

// Data sensitivity classifications
const (
	SensitivityInternal     = "internal"
	SensitivityConfidential = "confidential"
	SensitivityRestricted   = "restricted"
)

// JSONMap is an opaque structured payload stored as JSONB.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// AuditEvent is the unit of record in the audit trail. Once persisted the row is
// immutable apart from the legal hold columns, which are excluded from the hash.
type AuditEvent struct {
	ID       string `db:"id" json:"id"`
	Sequence int64  `db:"sequence" json:"sequence,omitempty"`
	EventID  string `db:"event_id" json:"event_id"`

	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	EventType        string    `db:"event_type" json:"event_type"`
	EventCategory    string    `db:"event_category" json:"event_category"`
	EventSeverity    Severity  `db:"event_severity" json:"event_severity"`
	EventName        string    `db:"event_name" json:"event_name"`
	EventDescription string    `db:"event_description" json:"event_description,omitempty"`

	ActorType     string         `db:"actor_type" json:"actor_type"`
	ActorID       string         `db:"actor_id" json:"actor_id,omitempty"`
	ActorUsername string         `db:"actor_username" json:"actor_username,omitempty"`
	ActorRoles    pq.StringArray `db:"actor_roles" json:"actor_roles,omitempty"`

	TargetType  string `db:"target_type" json:"target_type,omitempty"`
	TargetID    string `db:"target_id" json:"target_id,omitempty"`
	TargetName  string `db:"target_name" json:"target_name,omitempty"`
	TargetTable string `db:"target_table" json:"target_table,omitempty"`

	Action       string `db:"action" json:"action"`
	ActionResult string `db:"action_result" json:"action_result"`
	ErrorCode    string `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	BeforeValue   JSONMap        `db:"before_value" json:"before_value,omitempty"`
	AfterValue    JSONMap        `db:"after_value" json:"after_value,omitempty"`
	ChangedFields pq.StringArray `db:"changed_fields" json:"changed_fields,omitempty"`
	Metadata      JSONMap        `db:"metadata" json:"metadata,omitempty"`

	RequestID  string `db:"request_id" json:"request_id,omitempty"`
	SessionID  string `db:"session_id" json:"session_id,omitempty"`
	IPAddress  string `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  string `db:"user_agent" json:"user_agent,omitempty"`
	HTTPMethod string `db:"http_method" json:"http_method,omitempty"`
	HTTPPath   string `db:"http_path" json:"http_path,omitempty"`
	HTTPStatus int    `db:"http_status" json:"http_status,omitempty"`
	LatencyMS  int64  `db:"latency_ms" json:"latency_ms,omitempty"`

	DataSensitivity      string         `db:"data_sensitivity" json:"data_sensitivity"`
	RiskScore            int            `db:"risk_score" json:"risk_score"`
	ComplianceFrameworks pq.StringArray `db:"compliance_frameworks" json:"compliance_frameworks,omitempty"`

	EventHash    string `db:"event_hash" json:"event_hash"`
	PreviousHash string `db:"previous_hash" json:"previous_hash"`

	LegalHold       bool       `db:"legal_hold" json:"legal_hold"`
	LegalHoldReason string     `db:"legal_hold_reason" json:"legal_hold_reason,omitempty"`
	LegalHoldBy     string     `db:"legal_hold_by" json:"legal_hold_by,omitempty"`
	LegalHoldAt     *time.Time `db:"legal_hold_at" json:"legal_hold_at,omitempty"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ArchivedAt *time.Time `db:"archived_at" json:"archived_at,omitempty"`
}

// IsFailure reports whether the event recorded a failed action.
func (e *AuditEvent) IsFailure() bool {
	return e.ActionResult == ResultFailure
}

// HasFramework reports whether the event is tagged with the compliance framework.
func (e *AuditEvent) HasFramework(framework string) bool {
	for _, f := range e.ComplianceFrameworks {
		if f == framework {
			return true
		}
	}
	return false
}

// RecordCount returns metadata.record_count as an int, or 0 when absent.
func (e *AuditEvent) RecordCount() int {
	if e.Metadata == nil {
		return 0
	}
	switch v := e.Metadata["record_count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
