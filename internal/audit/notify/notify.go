// Package notify delivers critical event alerts to external destinations. Alerts are
// fanned out to every enabled destination (webhook, Redis pub/sub, SMTP) through the
// Notifier interface, so the escalator only knows about a single collaborator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// Alert is the summary payload sent for a critical event.
type Alert struct {
	CriticalEventID string    `json:"critical_event_id"`
	AuditEventID    string    `json:"audit_event_id"`
	EventType       string    `json:"event_type"`
	Severity        string    `json:"severity"`
	ThreatType      string    `json:"threat_type"`
	ThreatLevel     string    `json:"threat_level"`
	DetectionRule   string    `json:"detection_rule"`
	Confidence      int       `json:"confidence_level"`
	RiskScore       int       `json:"risk_score"`
	ActorID         string    `json:"actor_id,omitempty"`
	ActorUsername   string    `json:"actor_username,omitempty"`
	IPAddress       string    `json:"ip_address,omitempty"`
	Action          string    `json:"action"`
	TargetType      string    `json:"target_type,omitempty"`
	TargetID        string    `json:"target_id,omitempty"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Subject returns a one-line summary used as an email subject or log message.
func (a *Alert) Subject() string {
	return fmt.Sprintf("[%s] %s: %s by %s", a.ThreatLevel, a.ThreatType, a.Action, a.actor())
}

func (a *Alert) actor() string {
	switch {
	case a.ActorUsername != "":
		return a.ActorUsername
	case a.ActorID != "":
		return a.ActorID
	case a.IPAddress != "":
		return a.IPAddress
	}
	return "unknown actor"
}

// Notifier delivers an alert to one destination.
type Notifier interface {
	// Name identifies the destination in logs and metrics.
	Name() string
	// Notify sends the alert.
	Notify(ctx context.Context, alert *Alert) error
	// Close releases any resources.
	Close() error
}

// Multi sends alerts to several notifiers.
type Multi struct {
	notifiers []Notifier
	mu        sync.RWMutex
}

// NewMulti creates a Multi over the given notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// New builds a Multi from configuration. Disabled destinations are skipped; when
// notifications are disabled altogether the result has no destinations.
func New(cfg *config.NotificationsConfig) (*Multi, error) {
	m := NewMulti()
	if !cfg.Enabled {
		return m, nil
	}

	if cfg.Webhook.Enabled {
		w, err := NewWebhook(&cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook notifier: %w", err)
		}
		m.notifiers = append(m.notifiers, w)
	}
	if cfg.Redis.Enabled {
		m.notifiers = append(m.notifiers, NewRedis(&cfg.Redis))
	}
	if cfg.SMTP.Enabled {
		m.notifiers = append(m.notifiers, NewSMTP(&cfg.SMTP))
	}
	return m, nil
}

// Name implements Notifier.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of destinations.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers)
}

// Notify sends the alert to every destination and joins their errors. A failing
// destination does not stop delivery to the others.
func (m *Multi) Notify(ctx context.Context, alert *Alert) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			telemetry.AuditNotificationsTotal.WithLabelValues(n.Name(), "failure").Inc()
			slog.Warn("alert delivery failed", "notifier", n.Name(),
				"critical_event_id", alert.CriticalEventID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		telemetry.AuditNotificationsTotal.WithLabelValues(n.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

// Close closes every destination.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
