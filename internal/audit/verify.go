package audit

import (
	"context"
	"time"

	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

const defaultVerifyPageSize = 500

// ChainReader pages through persisted events in chain (sequence) order, hot and
// archived rows together, and resolves gaps through the pruned links left by retention
// and rejected writes.
type ChainReader interface {
	ChainPage(ctx context.Context, afterSequence int64, limit int) ([]*models.AuditEvent, error)
	BridgePruned(ctx context.Context, fromHash, toHash string) (int, error)
}

// ChainReport is the result of walking the persisted chain.
type ChainReport struct {
	Algorithm  string                `json:"algorithm"`
	Checked    int                   `json:"checked"`
	Pruned     int                   `json:"pruned"`
	Valid      bool                  `json:"valid"`
	FirstBreak *IntegrityViolation   `json:"first_break,omitempty"`
	Violations []*IntegrityViolation `json:"violations,omitempty"`
	HeadHash   string                `json:"head_hash,omitempty"`
	VerifiedAt time.Time             `json:"verified_at"`
}

// VerifyChain walks every persisted event in sequence order, recomputing each hash and
// checking that previous_hash links to the predecessor, starting from the empty genesis
// hash. A link that skips stored rows is accepted only when recorded pruned events
// connect the two hashes; any other gap is a broken link. Violations are reported,
// never corrected.
func VerifyChain(ctx context.Context, reader ChainReader, algorithm string, pageSize int) (*ChainReport, error) {
	if pageSize <= 0 {
		pageSize = defaultVerifyPageSize
	}
	report := &ChainReport{Algorithm: algorithm, Valid: true}

	var after int64
	var prevHash string
	for {
		page, err := reader.ChainPage(ctx, after, pageSize)
		if err != nil {
			return nil, &PersistenceError{Op: "chain page", Err: err}
		}
		for _, ev := range page {
			report.Checked++

			if expected, err := ComputeHash(algorithm, ev, ev.PreviousHash); err != nil {
				return nil, err
			} else if expected != ev.EventHash {
				report.add(&IntegrityViolation{
					EventID: ev.ID, Sequence: ev.Sequence, Reason: "hash mismatch",
					Expected: expected, Actual: ev.EventHash,
				})
			}
			if ev.PreviousHash != prevHash {
				bridged, err := reader.BridgePruned(ctx, prevHash, ev.PreviousHash)
				if err != nil {
					return nil, &PersistenceError{Op: "bridge pruned", Err: err}
				}
				if bridged > 0 {
					report.Pruned += bridged
				} else {
					report.add(&IntegrityViolation{
						EventID: ev.ID, Sequence: ev.Sequence, Reason: "broken link",
						Expected: prevHash, Actual: ev.PreviousHash,
					})
				}
			}

			prevHash = ev.EventHash
			after = ev.Sequence
		}
		if len(page) < pageSize {
			break
		}
	}

	report.HeadHash = prevHash
	report.VerifiedAt = time.Now().UTC()
	return report, nil
}

func (r *ChainReport) add(v *IntegrityViolation) {
	telemetry.AuditIntegrityFailuresTotal.Inc()
	if r.FirstBreak == nil {
		r.FirstBreak = v
	}
	r.Valid = false
	r.Violations = append(r.Violations, v)
}
