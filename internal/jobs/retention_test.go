package jobs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/storage"
)

var (
	errDBDown = errors.New("database unreachable")
	runNow    = time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
)

// memRetentionStore keeps hot and archived events in memory and applies the same
// selection rules as the SQL repository.
type memRetentionStore struct {
	mu          sync.Mutex
	hot         map[string]*models.AuditEvent
	archived    map[string]*models.AuditEvent
	failArchive bool
	failDelete  bool
	archiveCall []string
}

func newMemRetentionStore(events ...*models.AuditEvent) *memRetentionStore {
	s := &memRetentionStore{hot: map[string]*models.AuditEvent{}, archived: map[string]*models.AuditEvent{}}
	for _, e := range events {
		s.hot[e.ID] = e
	}
	return s
}

func (s *memRetentionStore) ArchiveBatch(_ context.Context, eventType string, cutoff time.Time, limit int) ([]*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveCall = append(s.archiveCall, eventType)
	if s.failArchive {
		return nil, errDBDown
	}
	var moved []*models.AuditEvent
	for id, e := range s.hot {
		if len(moved) == limit {
			break
		}
		if e.Timestamp.Before(cutoff) && !e.LegalHold && (eventType == "" || e.EventType == eventType) {
			delete(s.hot, id)
			s.archived[id] = e
			moved = append(moved, e)
		}
	}
	return moved, nil
}

func (s *memRetentionStore) DeleteExpiredArchived(_ context.Context, eventType string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return 0, errDBDown
	}
	var n int64
	for id, e := range s.archived {
		if e.Timestamp.Before(cutoff) && !e.LegalHold && (eventType == "" || e.EventType == eventType) {
			delete(s.archived, id)
			n++
		}
	}
	return n, nil
}

func (s *memRetentionStore) SetLegalHold(_ context.Context, hold models.LegalHold) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []map[string]*models.AuditEvent{s.hot, s.archived} {
		if e, ok := table[hold.EventID]; ok {
			e.LegalHold = hold.Active
			e.LegalHoldReason = hold.Reason
			return true, nil
		}
	}
	return false, nil
}

func (s *memRetentionStore) ListLegalHolds(context.Context) ([]models.LegalHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var holds []models.LegalHold
	for _, table := range []map[string]*models.AuditEvent{s.hot, s.archived} {
		for _, e := range table {
			if e.LegalHold {
				holds = append(holds, models.LegalHold{EventID: e.ID, Reason: e.LegalHoldReason, Active: true})
			}
		}
	}
	return holds, nil
}

func (s *memRetentionStore) present(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hot := s.hot[id]
	_, arch := s.archived[id]
	return hot || arch
}

type staticPolicies struct {
	policies []*models.RetentionPolicy
	err      error
}

func (p *staticPolicies) ListActive(context.Context) ([]*models.RetentionPolicy, error) {
	return p.policies, p.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (l *recordingLogger) Log(_ context.Context, e *audit.Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return "id", nil
}

// memObjects is an in-memory storage.Storage.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (m *memObjects) Upload(_ context.Context, key string, r io.Reader, _ int64) (*storage.UploadResult, error) {
	if m.fail {
		return nil, errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return &storage.UploadResult{Key: key, Size: int64(len(data))}, nil
}

func (m *memObjects) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(m.objects[key])), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func agedEvent(id, eventType string, age time.Duration) *models.AuditEvent {
	return &models.AuditEvent{ID: id, EventType: eventType, Timestamp: runNow.Add(-age)}
}

func policy(name string, eventType *string, archiveDays, deleteDays, priority int) *models.RetentionPolicy {
	return &models.RetentionPolicy{
		ID: name + "-id", Name: name, EventType: eventType,
		ArchiveAfterDays: archiveDays, DeleteAfterDays: deleteDays, Priority: priority, IsActive: true,
	}
}

func newTestManager(store RetentionStore, policies PolicySource, archive storage.Storage, logger EventLogger) *RetentionManager {
	m := NewRetentionManager(config.RetentionConfig{Schedule: "@daily"}, store, policies, archive, "audit", logger)
	m.now = func() time.Time { return runNow }
	return m
}

func TestRun_LegalHoldSurvivesZeroDayDelete(t *testing.T) {
	held := agedEvent("held", "data_access", time.Hour)
	sibling := agedEvent("sibling", "data_access", time.Hour)
	store := newMemRetentionStore(held, sibling)
	logger := &recordingLogger{}
	m := newTestManager(store, &staticPolicies{policies: []*models.RetentionPolicy{policy("purge", nil, 0, 0, 1)}}, nil, logger)

	_, err := m.PlaceHold(context.Background(), "held", "litigation 2026-17", "counsel")
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "")
	require.NoError(t, err)

	assert.True(t, store.present("held"), "held event must survive")
	assert.False(t, store.present("sibling"), "unheld sibling must be deleted")
	assert.Equal(t, 1, res.Archived)
	assert.EqualValues(t, 1, res.Deleted)
	assert.False(t, res.Failed())

	require.Len(t, logger.events, 2)
	hold := logger.events[0]
	assert.Equal(t, "place_legal_hold", hold.Action)
	assert.Equal(t, models.SeverityError, hold.EventSeverity)
	assert.Equal(t, "held", hold.TargetID)
	assert.Equal(t, models.ResultSuccess, hold.ActionResult)

	run := logger.events[1]
	assert.Equal(t, "retention_run", run.Action)
	assert.Equal(t, models.ActorSystem, run.ActorType)
	assert.Equal(t, res.RunID, run.TargetID)
}

func TestRun_ArchivesBeforeDeleteAge(t *testing.T) {
	recent := agedEvent("recent", "x", 24*time.Hour)
	old := agedEvent("old", "x", 40*24*time.Hour)
	ancient := agedEvent("ancient", "x", 400*24*time.Hour)
	store := newMemRetentionStore(recent, old, ancient)
	m := newTestManager(store, &staticPolicies{policies: []*models.RetentionPolicy{policy("default", nil, 30, 365, 0)}}, nil, nil)

	res, err := m.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Contains(t, store.hot, "recent")
	assert.Contains(t, store.archived, "old")
	assert.NotContains(t, store.archived, "ancient")
	assert.False(t, store.present("ancient"))
	assert.Equal(t, 2, res.Archived)
	assert.EqualValues(t, 1, res.Deleted)
}

func TestRun_PoliciesInPriorityOrderAndScope(t *testing.T) {
	auth := "authentication"
	store := newMemRetentionStore(
		agedEvent("a1", "authentication", 10*24*time.Hour),
		agedEvent("d1", "data_access", 10*24*time.Hour),
	)
	policies := &staticPolicies{policies: []*models.RetentionPolicy{
		policy("zz-default", nil, 30, 365, 0),
		policy("auth-short", &auth, 7, 90, 10),
		policy("aa-default", nil, 30, 365, 0),
	}}
	m := newTestManager(store, policies, nil, nil)

	res, err := m.Run(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, res.Policies, 3)
	assert.Equal(t, "auth-short", res.Policies[0].PolicyName)
	assert.Equal(t, "aa-default", res.Policies[1].PolicyName)
	assert.Equal(t, "zz-default", res.Policies[2].PolicyName)
	assert.Equal(t, []string{"authentication", "", ""}, store.archiveCall)

	assert.Contains(t, store.archived, "a1")
	assert.Contains(t, store.hot, "d1")
}

func TestRun_ExportsArchivedRows(t *testing.T) {
	store := newMemRetentionStore(
		agedEvent("e1", "x", 40*24*time.Hour),
		agedEvent("e2", "x", 41*24*time.Hour),
	)
	objects := &memObjects{}
	m := newTestManager(store, &staticPolicies{policies: []*models.RetentionPolicy{policy("Default Policy", nil, 30, 365, 0)}}, objects, nil)

	res, err := m.Run(context.Background(), "admin-1")
	require.NoError(t, err)
	require.Len(t, res.Policies, 1)

	key := res.Policies[0].ExportKey
	assert.Equal(t, "audit/archive/default-policy/2026/03/04/"+res.RunID+".jsonl.gz", key)

	zr, err := gzip.NewReader(bytes.NewReader(objects.objects[key]))
	require.NoError(t, err)
	ids := map[string]bool{}
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var e models.AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids[e.ID] = true
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, map[string]bool{"e1": true, "e2": true}, ids)
}

func TestRun_ExportFailureKeepsArchivedRows(t *testing.T) {
	store := newMemRetentionStore(agedEvent("e1", "x", 40*24*time.Hour))
	m := newTestManager(store, &staticPolicies{policies: []*models.RetentionPolicy{policy("p", nil, 30, 365, 0)}}, &memObjects{fail: true}, nil)

	res, err := m.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, store.archived, "e1")
	assert.NotEmpty(t, res.Policies[0].ExportError)
	assert.False(t, res.Failed(), "an export failure does not fail the policy")
}

func TestRun_ArchiveFailureSkipsDeleteAndContinues(t *testing.T) {
	store := newMemRetentionStore()
	store.failArchive = true
	logger := &recordingLogger{}
	m := newTestManager(store, &staticPolicies{policies: []*models.RetentionPolicy{
		policy("a", nil, 30, 365, 2),
		policy("b", nil, 30, 365, 1),
	}}, nil, logger)

	res, err := m.Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Policies, 2)
	assert.Contains(t, res.Policies[0].Error, "archive")
	assert.Contains(t, res.Policies[1].Error, "archive")
	assert.True(t, res.Failed())

	require.Len(t, logger.events, 1)
	assert.Equal(t, models.ResultFailure, logger.events[0].ActionResult)
}

func TestRun_PolicyListFailure(t *testing.T) {
	m := newTestManager(newMemRetentionStore(), &staticPolicies{err: errDBDown}, nil, nil)
	_, err := m.Run(context.Background(), "")
	assert.ErrorIs(t, err, errDBDown)
}

func TestRun_RejectsOverlappingRuns(t *testing.T) {
	m := newTestManager(newMemRetentionStore(), &staticPolicies{}, nil, nil)
	m.running.Lock()
	defer m.running.Unlock()

	_, err := m.Run(context.Background(), "")
	assert.ErrorIs(t, err, ErrRetentionRunning)
}

func TestStartStop(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		m := NewRetentionManager(config.RetentionConfig{Enabled: false}, newMemRetentionStore(), &staticPolicies{}, nil, "", nil)
		require.NoError(t, m.Start())
		require.NoError(t, m.Stop(context.Background()))
	})

	t.Run("invalid schedule", func(t *testing.T) {
		m := NewRetentionManager(config.RetentionConfig{Enabled: true, Schedule: "every tuesday"}, newMemRetentionStore(), &staticPolicies{}, nil, "", nil)
		assert.Error(t, m.Start())
	})

	t.Run("scheduled", func(t *testing.T) {
		m := NewRetentionManager(config.RetentionConfig{Enabled: true, Schedule: "@hourly"}, newMemRetentionStore(), &staticPolicies{}, nil, "", nil)
		require.NoError(t, m.Start())
		assert.Len(t, m.cron.Entries(), 1)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, m.Stop(ctx))
	})
}
