// Package models - pruned_event.go defines the PrunedEvent row that records an event
// removed from the stored hash chain.
package models

import "time"

// Reasons an event is missing from the stored chain.
const (
	PruneRetention = "retention"
	PruneRejected  = "rejected"
)

// PrunedEvent is the link left behind when an event leaves the stored chain, either
// deleted by retention or refused by the database at write time. It keeps the two
// hashes needed to bridge the gap during chain verification.
type PrunedEvent struct {
	EventHash    string    `db:"event_hash" json:"event_hash"`
	PreviousHash string    `db:"previous_hash" json:"previous_hash"`
	ID           string    `db:"id" json:"id"`
	Sequence     *int64    `db:"sequence" json:"sequence,omitempty"`
	EventType    string    `db:"event_type" json:"event_type"`
	Reason       string    `db:"reason" json:"reason"`
	PrunedAt     time.Time `db:"pruned_at" json:"pruned_at"`
}

// PrunedFrom returns the pruned link of e.
func PrunedFrom(e *AuditEvent, reason string) *PrunedEvent {
	p := &PrunedEvent{
		EventHash:    e.EventHash,
		PreviousHash: e.PreviousHash,
		ID:           e.ID,
		EventType:    e.EventType,
		Reason:       reason,
	}
	if e.Sequence > 0 {
		seq := e.Sequence
		p.Sequence = &seq
	}
	return p
}
