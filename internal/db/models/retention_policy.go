// Package models - retention_policy.go defines the RetentionPolicy model governing when
// audit events move to the archive table and when archived events are deleted, and the
// LegalHold request that suspends both.
package models

import (
	"time"
)

// RetentionPolicy controls archival and deletion for events of one type, or all types
// when EventType is nil.
type RetentionPolicy struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Description      *string   `db:"description" json:"description,omitempty"`
	EventType        *string   `db:"event_type" json:"event_type,omitempty"` // NULL = all event types
	ArchiveAfterDays int       `db:"archive_after_days" json:"archive_after_days"`
	DeleteAfterDays  int       `db:"delete_after_days" json:"delete_after_days"`
	Priority         int       `db:"priority" json:"priority"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Matches reports whether the policy applies to events of the given type.
func (p *RetentionPolicy) Matches(eventType string) bool {
	if p.EventType == nil || *p.EventType == "" {
		return true
	}
	return *p.EventType == eventType
}

// Scope returns the event type filter, or "" for unscoped policies.
func (p *RetentionPolicy) Scope() string {
	if p.EventType == nil {
		return ""
	}
	return *p.EventType
}

// ArchiveCutoff returns the instant before which events are archived. Rows old enough
// to be deleted are always archived first, so the shorter of the two ages applies.
func (p *RetentionPolicy) ArchiveCutoff(now time.Time) time.Time {
	days := p.ArchiveAfterDays
	if p.DeleteAfterDays < days {
		days = p.DeleteAfterDays
	}
	return now.AddDate(0, 0, -days)
}

// DeleteCutoff returns the instant before which archived events are deleted.
func (p *RetentionPolicy) DeleteCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.DeleteAfterDays)
}

// LegalHold describes a hold placed on (or released from) a single audit event.
type LegalHold struct {
	EventID  string    `json:"event_id"`
	Reason   string    `json:"reason"`
	PlacedBy string    `json:"placed_by"`
	PlacedAt time.Time `json:"placed_at"`
	Active   bool      `json:"active"`
}
