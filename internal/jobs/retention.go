// retention.go implements the RetentionManager background job. On a cron schedule it
// walks the active retention policies in priority order, moves events past each policy's
// archive age from the hot table to the archive table, exports the moved rows to the
// configured object store, and permanently deletes archived rows past the delete age.
// Events under legal hold are never selected by either step. Each run is itself
// recorded as an audit event.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/safego"
	"github.com/audit-trail/audit-trail/internal/storage"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

const archiveBatchSize = 1000

// ErrRetentionRunning is returned by Run while another run is in progress.
var ErrRetentionRunning = errors.New("retention run already in progress")

// RetentionStore is the persistence needed by retention and legal holds.
type RetentionStore interface {
	ArchiveBatch(ctx context.Context, eventType string, cutoff time.Time, limit int) ([]*models.AuditEvent, error)
	DeleteExpiredArchived(ctx context.Context, eventType string, cutoff time.Time) (int64, error)
	SetLegalHold(ctx context.Context, hold models.LegalHold) (bool, error)
	ListLegalHolds(ctx context.Context) ([]models.LegalHold, error)
}

// PolicySource lists the active retention policies.
type PolicySource interface {
	ListActive(ctx context.Context) ([]*models.RetentionPolicy, error)
}

// EventLogger records an audit event. *audit.Logger satisfies it.
type EventLogger interface {
	Log(ctx context.Context, e *audit.Event) (string, error)
}

// PolicyResult is the outcome of applying one policy.
type PolicyResult struct {
	PolicyID    string `json:"policy_id"`
	PolicyName  string `json:"policy_name"`
	Archived    int    `json:"archived"`
	Deleted     int64  `json:"deleted"`
	ExportKey   string `json:"export_key,omitempty"`
	ExportError string `json:"export_error,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunResult summarizes a retention run.
type RunResult struct {
	RunID       string         `json:"run_id"`
	TriggeredBy string         `json:"triggered_by"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Archived    int            `json:"archived"`
	Deleted     int64          `json:"deleted"`
	Policies    []PolicyResult `json:"policies"`
}

// Failed reports whether any policy failed to archive or delete.
func (r *RunResult) Failed() bool {
	for _, p := range r.Policies {
		if p.Error != "" {
			return true
		}
	}
	return false
}

// RetentionManager applies retention policies and manages legal holds.
type RetentionManager struct {
	store    RetentionStore
	policies PolicySource
	exporter *ArchiveExporter
	logger   EventLogger
	cfg      config.RetentionConfig
	now      func() time.Time

	running sync.Mutex
	cron    *cron.Cron
}

// NewRetentionManager creates a manager. archive and logger may be nil: without an
// archive store moved rows are not exported, and without a logger runs and holds are
// not recorded as audit events.
func NewRetentionManager(cfg config.RetentionConfig, store RetentionStore, policies PolicySource, archive storage.Storage, archivePrefix string, logger EventLogger) *RetentionManager {
	m := &RetentionManager{
		store:    store,
		policies: policies,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	if archive != nil {
		m.exporter = NewArchiveExporter(archive, archivePrefix)
	}
	return m
}

// Start schedules runs on cfg.Schedule. It is a no-op when retention is disabled.
func (m *RetentionManager) Start() error {
	if !m.cfg.Enabled {
		slog.Info("retention manager disabled (audit.retention.enabled=false)")
		return nil
	}

	logger := cronLogger{}
	m.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := m.cron.AddFunc(m.cfg.Schedule, m.scheduledRun); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", m.cfg.Schedule, err)
	}
	m.cron.Start()
	slog.Info("retention manager started", "schedule", m.cfg.Schedule)
	return nil
}

// Stop stops the schedule and waits for a running job until ctx expires.
func (m *RetentionManager) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	select {
	case <-m.cron.Stop().Done():
		slog.Info("retention manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *RetentionManager) scheduledRun() {
	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	safego.Run("retention-run", func() {
		if _, err := m.Run(ctx, ""); err != nil {
			slog.Error("scheduled retention run failed", "error", err)
		}
	})
}

// Run applies every active policy once. triggeredBy identifies the requesting user;
// empty means the scheduler. A failing policy is recorded in the result and the
// remaining policies still run.
func (m *RetentionManager) Run(ctx context.Context, triggeredBy string) (*RunResult, error) {
	if !m.running.TryLock() {
		return nil, ErrRetentionRunning
	}
	defer m.running.Unlock()

	policies, err := m.policies.ListActive(ctx)
	if err != nil {
		return nil, &audit.PersistenceError{Op: "list retention policies", Err: err}
	}
	sortPolicies(policies)

	now := m.now().UTC()
	res := &RunResult{
		RunID:       uuid.NewString(),
		TriggeredBy: triggeredBy,
		StartedAt:   now,
		Policies:    make([]PolicyResult, 0, len(policies)),
	}

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pr := m.apply(ctx, res.RunID, p, now)
		res.Archived += pr.Archived
		res.Deleted += pr.Deleted
		res.Policies = append(res.Policies, pr)
	}
	res.FinishedAt = m.now().UTC()

	slog.Info("retention run complete",
		"run_id", res.RunID, "policies", len(res.Policies),
		"archived", res.Archived, "deleted", res.Deleted, "failed", res.Failed())
	m.recordRun(ctx, res)
	return res, nil
}

// sortPolicies orders by priority descending, then name.
func sortPolicies(policies []*models.RetentionPolicy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].Name < policies[j].Name
	})
}

func (m *RetentionManager) apply(ctx context.Context, runID string, p *models.RetentionPolicy, now time.Time) PolicyResult {
	pr := PolicyResult{PolicyID: p.ID, PolicyName: p.Name}
	scope := p.Scope()

	var moved []*models.AuditEvent
	cutoff := p.ArchiveCutoff(now)
	for {
		batch, err := m.store.ArchiveBatch(ctx, scope, cutoff, archiveBatchSize)
		if err != nil {
			pr.Error = (&audit.PersistenceError{Op: "archive", Err: err}).Error()
			slog.Error("retention archive failed", "policy", p.Name, "error", err)
			break
		}
		moved = append(moved, batch...)
		telemetry.AuditRetentionArchivedTotal.Add(float64(len(batch)))
		if len(batch) < archiveBatchSize {
			break
		}
	}
	pr.Archived = len(moved)

	if len(moved) > 0 && m.exporter != nil {
		key, err := m.exporter.Export(ctx, p.Name, runID, now, moved)
		if err != nil {
			pr.ExportError = err.Error()
			slog.Error("archive export failed; rows remain in the archive table",
				"policy", p.Name, "rows", len(moved), "error", err)
		} else {
			pr.ExportKey = key
		}
	}

	if pr.Error != "" {
		return pr
	}
	deleted, err := m.store.DeleteExpiredArchived(ctx, scope, p.DeleteCutoff(now))
	if err != nil {
		pr.Error = (&audit.PersistenceError{Op: "delete expired", Err: err}).Error()
		slog.Error("retention delete failed", "policy", p.Name, "error", err)
		return pr
	}
	pr.Deleted = deleted
	telemetry.AuditRetentionDeletedTotal.Add(float64(deleted))
	return pr
}

func (m *RetentionManager) recordRun(ctx context.Context, res *RunResult) {
	if m.logger == nil {
		return
	}
	actorType, actorID := models.ActorSystem, "retention-manager"
	if res.TriggeredBy != "" {
		actorType, actorID = models.ActorUser, res.TriggeredBy
	}
	result, severity := models.ResultSuccess, models.SeverityInfo
	if res.Failed() {
		result, severity = models.ResultFailure, models.SeverityError
	}

	_, err := m.logger.Log(ctx, &audit.Event{
		EventType:     audit.TypeCompliance,
		EventCategory: audit.CategoryCompliance,
		EventSeverity: severity,
		EventName:     "retention_run",
		ActorType:     actorType,
		ActorID:       actorID,
		TargetType:    "retention_run",
		TargetID:      res.RunID,
		TargetTable:   "audit_events",
		Action:        "retention_run",
		ActionResult:  result,
		Metadata: map[string]interface{}{
			"policies": len(res.Policies),
			"archived": res.Archived,
			"deleted":  res.Deleted,
		},
	})
	if err != nil {
		slog.Error("failed to record retention run", "run_id", res.RunID, "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
