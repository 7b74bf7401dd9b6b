package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// Risk contributions.
const (
	riskAuthFailure         = 20
	riskPerRecentFailure    = 10
	riskRecentFailureCap    = 50
	riskHistoryUnavailable  = 25
	riskAuthzFailure        = 30
	riskRestricted          = 25
	riskConfidential        = 15
	riskOffHours            = 10
	riskElevatedRole        = 15
	riskDestructiveAction   = 20
	riskLargeExport         = 25
	largeExportRecordCount  = 1000
	defaultFailureWindow    = time.Hour
	defaultFailureCacheSize = 10000
)

var elevatedRoles = map[string]bool{
	"admin":          true,
	"super_admin":    true,
	"root":           true,
	"security_admin": true,
}

// FailureHistory counts persisted failed authentications for an actor or IP.
type FailureHistory interface {
	CountRecentFailures(ctx context.Context, actorID, ip string, since time.Time) (int, error)
}

// FailureWindow tracks failed authentications seen by this process, keyed by actor id
// and by IP. It covers failures that are still buffered and not yet queryable.
type FailureWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   *expirable.LRU[string, []time.Time]
}

// NewFailureWindow creates a window remembering failures for the given duration.
func NewFailureWindow(size int, window time.Duration) *FailureWindow {
	if size <= 0 {
		size = defaultFailureCacheSize
	}
	if window <= 0 {
		window = defaultFailureWindow
	}
	return &FailureWindow{
		window: window,
		seen:   expirable.NewLRU[string, []time.Time](size, nil, window),
	}
}

func windowKeys(actorID, ip string) []string {
	var keys []string
	if actorID != "" {
		keys = append(keys, "actor:"+actorID)
	}
	if ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}

// Count returns the larger of the actor and IP failure counts within the window
// ending at now.
func (w *FailureWindow) Count(actorID, ip string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count(actorID, ip, now)
}

func (w *FailureWindow) count(actorID, ip string, now time.Time) int {
	best := 0
	for _, key := range windowKeys(actorID, ip) {
		times, ok := w.seen.Get(key)
		if !ok {
			continue
		}
		n := 0
		for _, t := range times {
			if now.Sub(t) < w.window {
				n++
			}
		}
		if n > best {
			best = n
		}
	}
	return best
}

// Record adds a failure at ts for the actor and IP.
func (w *FailureWindow) Record(actorID, ip string, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(actorID, ip, ts)
}

// Observe returns the failure count before ts and then records the failure at ts,
// as one step.
func (w *FailureWindow) Observe(actorID, ip string, ts time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.count(actorID, ip, ts)
	w.record(actorID, ip, ts)
	return n
}

func (w *FailureWindow) record(actorID, ip string, ts time.Time) {
	for _, key := range windowKeys(actorID, ip) {
		times, _ := w.seen.Get(key)
		kept := times[:0:0]
		for _, t := range times {
			if ts.Sub(t) < w.window {
				kept = append(kept, t)
			}
		}
		w.seen.Add(key, append(kept, ts))
	}
}

// RiskAssessment is the result of scoring one event.
type RiskAssessment struct {
	Score          int
	RecentFailures int
	// HistoryErr is set when the persisted failure lookup failed and a default
	// contribution was substituted.
	HistoryErr error
}

// RiskScorer computes a bounded heuristic score for an event.
type RiskScorer struct {
	history       FailureHistory
	window        *FailureWindow
	lookupTimeout time.Duration

	mu       sync.RWMutex
	location *time.Location
	startHr  int
	endHr    int
}

// NewRiskScorer creates a scorer. history may be nil, in which case only the in-process
// window is consulted.
func NewRiskScorer(cfg config.RiskConfig, history FailureHistory) *RiskScorer {
	s := &RiskScorer{
		history:       history,
		window:        NewFailureWindow(cfg.FailureWindowSize, cfg.FailureWindow),
		lookupTimeout: cfg.LookupTimeout,
	}
	s.SetBusinessHours(cfg)
	return s
}

// SetBusinessHours applies the timezone and business-hours window of cfg.
func (s *RiskScorer) SetBusinessHours(cfg config.RiskConfig) {
	start, end := cfg.BusinessHoursStart, cfg.BusinessHoursEnd
	if start == 0 && end == 0 {
		start, end = 8, 18
	}
	loc := cfg.Location()

	s.mu.Lock()
	s.location, s.startHr, s.endHr = loc, start, end
	s.mu.Unlock()
}

// OffHours reports whether ts falls outside business hours or on a weekend.
func (s *RiskScorer) OffHours(ts time.Time) bool {
	s.mu.RLock()
	local := ts.In(s.location)
	start, end := s.startHr, s.endHr
	s.mu.RUnlock()

	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	h := local.Hour()
	return h < start || h >= end
}

// Score computes the risk of e. A failed authentication is counted against the window
// before being added to it, so the n-th failure sees n-1 earlier ones. Score never fails.
func (s *RiskScorer) Score(ctx context.Context, e *models.AuditEvent) RiskAssessment {
	var ra RiskAssessment
	score := 0

	if e.EventType == TypeAuthentication && e.IsFailure() {
		score += riskAuthFailure

		local := s.window.Observe(e.ActorID, e.IPAddress, e.Timestamp)
		recent := local
		persisted, err := s.persistedFailures(ctx, e)
		if err != nil {
			ra.HistoryErr = &PersistenceError{Op: "failure history lookup", Err: err}
			slog.Warn("risk scoring: failure history unavailable",
				"event_id", e.ID, "error", err)
		} else if persisted > recent {
			recent = persisted
		}
		ra.RecentFailures = recent

		contribution := min(recent*riskPerRecentFailure, riskRecentFailureCap)
		if ra.HistoryErr != nil {
			contribution = max(contribution, riskHistoryUnavailable)
		}
		score += contribution
	}

	if e.EventType == TypeAuthorization && e.IsFailure() {
		score += riskAuthzFailure
	}

	switch e.DataSensitivity {
	case models.SensitivityRestricted:
		score += riskRestricted
	case models.SensitivityConfidential:
		score += riskConfidential
	}

	if s.OffHours(e.Timestamp) {
		score += riskOffHours
	}

	for _, role := range e.ActorRoles {
		if elevatedRoles[strings.ToLower(role)] {
			score += riskElevatedRole
			break
		}
	}

	action := strings.ToLower(e.Action)
	if strings.Contains(action, "delete") {
		score += riskDestructiveAction
	}
	if strings.Contains(action, "export") && e.RecordCount() > largeExportRecordCount {
		score += riskLargeExport
	}

	ra.Score = max(0, min(score, 100))
	return ra
}

func (s *RiskScorer) persistedFailures(ctx context.Context, e *models.AuditEvent) (int, error) {
	if s.history == nil || (e.ActorID == "" && e.IPAddress == "") {
		return 0, nil
	}
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}
	return s.history.CountRecentFailures(ctx, e.ActorID, e.IPAddress, e.Timestamp.Add(-s.window.window))
}
