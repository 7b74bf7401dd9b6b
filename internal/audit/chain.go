package audit

import (
	"strings"
	"time"

	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/pkg/checksum"
)

// CanonicalString returns the fixed field subset covered by the event hash, joined with
// "|". previousHash is the last component.
func CanonicalString(e *models.AuditEvent, previousHash string) string {
	return strings.Join([]string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.EventType,
		e.ActorType,
		e.ActorID,
		e.Action,
		e.TargetID,
		e.ActionResult,
		previousHash,
	}, "|")
}

// ComputeHash returns the hex digest of e's canonical fields linked to previousHash.
func ComputeHash(algorithm string, e *models.AuditEvent, previousHash string) (string, error) {
	return checksum.Sum(algorithm, []byte(CanonicalString(e, previousHash)))
}

// VerifyEvent recomputes e's hash from its stored fields and previous_hash and compares
// it with event_hash. It never mutates e.
func VerifyEvent(algorithm string, e *models.AuditEvent) bool {
	h, err := ComputeHash(algorithm, e, e.PreviousHash)
	return err == nil && h == e.EventHash
}

// Chainer owns the process-wide chain cursor. It is not safe for concurrent use; the
// logger goroutine is its only caller.
type Chainer struct {
	algorithm string
	previous  string
}

// NewChainer creates a chainer continuing from previous ("" starts a new chain).
func NewChainer(algorithm, previous string) (*Chainer, error) {
	if _, err := checksum.New(algorithm); err != nil {
		return nil, err
	}
	if algorithm == "" {
		algorithm = checksum.SHA256
	}
	return &Chainer{algorithm: algorithm, previous: previous}, nil
}

// Algorithm returns the configured hash algorithm name.
func (c *Chainer) Algorithm() string { return c.algorithm }

// Previous returns the current cursor.
func (c *Chainer) Previous() string { return c.previous }

// Link sets e's previous_hash and event_hash from the cursor and advances the cursor.
func (c *Chainer) Link(e *models.AuditEvent) error {
	h, err := ComputeHash(c.algorithm, e, c.previous)
	if err != nil {
		return err
	}
	e.PreviousHash = c.previous
	e.EventHash = h
	c.previous = h
	return nil
}
