package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audit-trail/audit-trail/internal/audit/notify"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/safego"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// CriticalEventStore persists critical event records.
type CriticalEventStore interface {
	Create(ctx context.Context, ce *models.CriticalEvent) error
}

type escalation struct {
	event     *models.AuditEvent
	detection Detection
}

// Escalator persists CriticalEvents and sends alerts from its own goroutine, so a slow
// notifier never stalls the logger. The queue is bounded; overflow goes to the
// fallback log.
type Escalator struct {
	store    CriticalEventStore
	notifier notify.Notifier
	fallback *FallbackLog
	timeout  time.Duration
	now      func() time.Time

	queue    chan escalation
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewEscalator creates an escalator. notifier may be nil.
func NewEscalator(cfg config.EscalationConfig, store CriticalEventStore, notifier notify.Notifier, fallback *FallbackLog) *Escalator {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Escalator{
		store:    store,
		notifier: notifier,
		fallback: fallback,
		timeout:  timeout,
		now:      time.Now,
		queue:    make(chan escalation, size),
		done:     make(chan struct{}),
	}
}

// Start launches the escalation worker.
func (e *Escalator) Start() {
	safego.Go("audit-escalator", e.run)
}

func (e *Escalator) run() {
	defer close(e.done)
	for esc := range e.queue {
		safego.Run("audit-escalation", func() { e.process(esc) })
	}
}

// Submit queues an escalation without blocking. It returns false when the queue is
// full or the escalator is stopped; the event is then written to the fallback log.
func (e *Escalator) Submit(event *models.AuditEvent, d Detection) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.stopped {
		select {
		case e.queue <- escalation{event: event, detection: d}:
			return true
		default:
		}
	}
	slog.Error("escalation queue unavailable, event written to fallback log",
		"event_id", event.ID, "threat_type", d.ThreatType)
	_ = e.fallback.Record(event, &PersistenceError{Op: "escalation enqueue", Err: errEscalationQueueFull})
	return false
}

func (e *Escalator) process(esc escalation) {
	ev, d := esc.event, esc.detection
	ce := &models.CriticalEvent{
		ID:              uuid.NewString(),
		AuditEventID:    ev.ID,
		ThreatType:      d.ThreatType,
		ThreatLevel:     d.ThreatLevel,
		DetectionRule:   d.Rule,
		DetectionScore:  ev.RiskScore,
		ConfidenceLevel: d.Confidence,
		ActorID:         ev.ActorID,
		IPAddress:       ev.IPAddress,
		Action:          ev.Action,
		TargetID:        ev.TargetID,
		DetectedAt:      e.now().UTC(),
	}
	telemetry.AuditCriticalEventsTotal.WithLabelValues(ce.ThreatType, ce.ThreatLevel).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.store.Create(ctx, ce); err != nil {
		perr := &PersistenceError{Op: "critical event insert", Err: err}
		slog.Error("failed to persist critical event", "event_id", ev.ID, "error", perr)
		_ = e.fallback.Record(ce, perr)
	} else {
		slog.Warn("critical audit event detected",
			"event_id", ev.ID, "critical_event_id", ce.ID,
			"threat_type", ce.ThreatType, "threat_level", ce.ThreatLevel,
			"detection_rule", ce.DetectionRule, "risk_score", ce.DetectionScore)
	}

	if e.notifier == nil {
		return
	}
	alert := &notify.Alert{
		CriticalEventID: ce.ID,
		AuditEventID:    ev.ID,
		EventType:       ev.EventType,
		Severity:        string(ev.EventSeverity),
		ThreatType:      ce.ThreatType,
		ThreatLevel:     ce.ThreatLevel,
		DetectionRule:   ce.DetectionRule,
		Confidence:      ce.ConfidenceLevel,
		RiskScore:       ev.RiskScore,
		ActorID:         ev.ActorID,
		ActorUsername:   ev.ActorUsername,
		IPAddress:       ev.IPAddress,
		Action:          ev.Action,
		TargetType:      ev.TargetType,
		TargetID:        ev.TargetID,
		DetectedAt:      ce.DetectedAt,
	}
	if err := e.notifier.Notify(ctx, alert); err != nil {
		_ = e.fallback.Record(alert, err)
	}
}

// Stop stops accepting escalations and waits for queued ones to finish until ctx
// expires.
func (e *Escalator) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		close(e.queue)
		e.mu.Unlock()
	})
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
