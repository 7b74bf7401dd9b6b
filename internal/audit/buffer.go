package audit

import "github.com/audit-trail/audit-trail/internal/db/models"

// Buffer is the FIFO of events awaiting persistence. It is owned by the logger
// goroutine and is not safe for concurrent use.
type Buffer struct {
	events []*models.AuditEvent
	max    int
}

// NewBuffer creates a buffer. max <= 0 means unbounded.
func NewBuffer(max int) *Buffer {
	if max < 0 {
		max = 0
	}
	return &Buffer{max: max}
}

// Len returns the number of pending events.
func (b *Buffer) Len() int { return len(b.events) }

// CheckCapacity returns a *CapacityError when the hard cap has been reached.
func (b *Buffer) CheckCapacity() error {
	if b.max > 0 && len(b.events) >= b.max {
		return &CapacityError{Limit: b.max}
	}
	return nil
}

// Push appends e to the tail. Callers check capacity first.
func (b *Buffer) Push(e *models.AuditEvent) {
	b.events = append(b.events, e)
}

// Take removes and returns up to n events from the head.
func (b *Buffer) Take(n int) []*models.AuditEvent {
	if n <= 0 || len(b.events) == 0 {
		return nil
	}
	n = min(n, len(b.events))
	out := make([]*models.AuditEvent, n)
	copy(out, b.events[:n])
	clear(b.events[:n])
	b.events = b.events[n:]
	return out
}

// Requeue puts events back at the head in their original order. The hard cap is not
// applied; already-chained events are never dropped.
func (b *Buffer) Requeue(events []*models.AuditEvent) {
	if len(events) == 0 {
		return
	}
	merged := make([]*models.AuditEvent, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	merged = append(merged, b.events...)
	b.events = merged
}

// Snapshot returns a copy of the pending events in order.
func (b *Buffer) Snapshot() []*models.AuditEvent {
	out := make([]*models.AuditEvent, len(b.events))
	copy(out, b.events)
	return out
}
