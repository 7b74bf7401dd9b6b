package audit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLoggerClosed is returned by Log after Shutdown has started.
	ErrLoggerClosed = errors.New("audit logger is closed")
	// ErrNotRecorded is returned when an event could neither be buffered nor written
	// to the fallback log.
	ErrNotRecorded = errors.New("audit event was not recorded")

	errEscalationQueueFull = errors.New("escalation queue full or stopped")
	errNULInPayload        = errors.New("payload contains a NUL character")
	errFlushPanicked       = errors.New("flush goroutine panicked")
)

// ValidationError lists the required fields missing from an event.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "audit event is missing required fields: " + strings.Join(e.Missing, ", ")
}

// CapacityError is returned when the buffer has reached its configured hard cap.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("audit buffer is full (%d events)", e.Limit)
}

// PersistenceError wraps a failed write, read or archive operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SerializationError records a structured payload field that could not be encoded.
type SerializationError struct {
	Field string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("audit field %s could not be serialized: %v", e.Field, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IntegrityViolation describes a stored event whose hash does not match its contents
// or whose previous_hash does not link to its predecessor.
type IntegrityViolation struct {
	EventID  string `json:"event_id"`
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation on event %s (sequence %d): %s: expected %s, got %s",
		e.EventID, e.Sequence, e.Reason, e.Expected, e.Actual)
}
