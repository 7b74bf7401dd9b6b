package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/audit/notify"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

var errStoreDown = errors.New("database unreachable")

// memStore is an in-memory EventStore, CriticalEventStore and ChainReader.
type memStore struct {
	mu         sync.Mutex
	events     []*models.AuditEvent
	criticals  []*models.CriticalEvent
	seq        int64
	failAppend bool
	failCreate bool
	failCount  bool
	lastHash   string
	lastErr    error
	appendCall int
	pruned     []*models.PrunedEvent
	// reject refuses a row the way a column constraint would; a refused row fails
	// the whole batch.
	reject func(*models.AuditEvent) error
}

func (s *memStore) AppendBatch(_ context.Context, events []*models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCall++
	if s.failAppend {
		return errStoreDown
	}
	if s.reject != nil {
		for _, ev := range events {
			if err := s.reject(ev); err != nil {
				return err
			}
		}
	}
	for _, ev := range events {
		cp := *ev
		s.seq++
		cp.Sequence = s.seq
		s.events = append(s.events, &cp)
	}
	return nil
}

func (s *memStore) CountRecentFailures(_ context.Context, actorID, ip string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCount {
		return 0, errStoreDown
	}
	n := 0
	for _, ev := range s.events {
		if ev.EventType == TypeAuthentication && ev.IsFailure() && !ev.Timestamp.Before(since) &&
			((actorID != "" && ev.ActorID == actorID) || (ip != "" && ev.IPAddress == ip)) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) LastEventHash(context.Context) (string, error) {
	return s.lastHash, s.lastErr
}

func (s *memStore) RecordPruned(_ context.Context, pruned []*models.PrunedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, pruned...)
	return nil
}

func (s *memStore) BridgePruned(_ context.Context, fromHash, toHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]string, len(s.pruned))
	for _, p := range s.pruned {
		next[p.PreviousHash] = p.EventHash
	}
	cur := fromHash
	for depth := 1; depth <= len(s.pruned); depth++ {
		h, ok := next[cur]
		if !ok {
			return 0, nil
		}
		if h == toHash {
			return depth, nil
		}
		cur = h
	}
	return 0, nil
}

// prune removes stored events the way retention does, leaving their pruned links.
func (s *memStore) prune(idList ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range idList {
		drop[id] = true
	}
	kept := s.events[:0]
	for _, ev := range s.events {
		if drop[ev.ID] {
			s.pruned = append(s.pruned, models.PrunedFrom(ev, models.PruneRetention))
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
}

func (s *memStore) prunedLinks() []*models.PrunedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.PrunedEvent(nil), s.pruned...)
}

func (s *memStore) ChainPage(_ context.Context, after int64, limit int) ([]*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]*models.AuditEvent(nil), s.events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })
	var page []*models.AuditEvent
	for _, ev := range sorted {
		if ev.Sequence > after {
			page = append(page, ev)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

func (s *memStore) Create(_ context.Context, ce *models.CriticalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errStoreDown
	}
	s.criticals = append(s.criticals, ce)
	return nil
}

func (s *memStore) stored() []*models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditEvent(nil), s.events...)
}

func (s *memStore) criticalEvents() []*models.CriticalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.CriticalEvent(nil), s.criticals...)
}

func (s *memStore) setFailAppend(v bool) {
	s.mu.Lock()
	s.failAppend = v
	s.mu.Unlock()
}

// recordingNotifier collects alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*notify.Alert
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }
func (n *recordingNotifier) Notify(_ context.Context, a *notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}
func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// testAuditConfig disables timer and threshold flushes so tests flush explicitly.
func testAuditConfig(t *testing.T) *config.AuditConfig {
	t.Helper()
	return &config.AuditConfig{
		Buffer: config.BufferConfig{
			FlushInterval:  time.Hour,
			BatchSize:      100,
			WriteChunkSize: 50,
			FlushThreshold: 1000,
			WriteTimeout:   time.Second,
		},
		Fallback:   config.FallbackConfig{Path: filepath.Join(t.TempDir(), "fallback.jsonl")},
		Chain:      config.ChainConfig{Algorithm: "sha256", ResumeOnStartup: true},
		Risk:       config.RiskConfig{Timezone: "UTC", BusinessHoursStart: 8, BusinessHoursEnd: 18, FailureWindow: time.Hour},
		Escalation: config.EscalationConfig{QueueSize: 16, NotifyTimeout: time.Second},
	}
}

func startLogger(t *testing.T, cfg *config.AuditConfig, store *memStore, n notify.Notifier) *Logger {
	t.Helper()
	l, err := NewLogger(context.Background(), cfg, store, store, n)
	require.NoError(t, err)
	l.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l
}

func infoEvent(name string) *Event {
	return &Event{
		EventType:     TypeDataAccess,
		EventCategory: CategoryData,
		EventSeverity: models.SeverityInfo,
		EventName:     name,
		ActorID:       "u-1",
		Action:        "read",
		ActionResult:  models.ResultSuccess,
		TargetType:    "documents",
		TargetID:      name,
	}
}

func loginFailure(ip string) *Event {
	return &Event{
		EventType:     TypeAuthentication,
		EventCategory: CategorySecurity,
		EventSeverity: models.SeverityWarning,
		EventName:     "login_failed",
		ActorID:       "u-42",
		IPAddress:     ip,
		Action:        "login",
		ActionResult:  models.ResultFailure,
	}
}
