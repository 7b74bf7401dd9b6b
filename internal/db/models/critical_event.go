// Package models - critical_event.go defines the CriticalEvent derived from an escalated
// AuditEvent. Critical events are written once and never updated.
package models

import "time"

// Threat levels
const (
	ThreatLow      = "low"
	ThreatMedium   = "medium"
	ThreatHigh     = "high"
	ThreatCritical = "critical"
)

// CriticalEvent records the classification of an escalated audit event.
type CriticalEvent struct {
	ID              string    `db:"id" json:"id"`
	AuditEventID    string    `db:"audit_event_id" json:"audit_event_id"`
	ThreatType      string    `db:"threat_type" json:"threat_type"`
	ThreatLevel     string    `db:"threat_level" json:"threat_level"`
	DetectionRule   string    `db:"detection_rule" json:"detection_rule"`
	DetectionScore  int       `db:"detection_score" json:"detection_score"`
	ConfidenceLevel int       `db:"confidence_level" json:"confidence_level"`
	ActorID         string    `db:"actor_id" json:"actor_id,omitempty"`
	IPAddress       string    `db:"ip_address" json:"ip_address,omitempty"`
	Action          string    `db:"action" json:"action"`
	TargetID        string    `db:"target_id" json:"target_id,omitempty"`
	DetectedAt      time.Time `db:"detected_at" json:"detected_at"`
}
