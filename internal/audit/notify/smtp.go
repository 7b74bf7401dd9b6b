package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/audit-trail/audit-trail/internal/config"
)

// SMTP emails alerts to a fixed recipient list.
type SMTP struct {
	cfg  *config.SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP notifier.
func NewSMTP(cfg *config.SMTPConfig) *SMTP {
	s := &SMTP{cfg: cfg}
	if cfg.UseTLS {
		s.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
			return sendMailTLS(addr, cfg.Host, auth, from, to, msg)
		}
	} else {
		s.send = smtp.SendMail
	}
	return s
}

// Name implements Notifier.
func (s *SMTP) Name() string { return "smtp" }

// Notify emails the alert. net/smtp has no context support, so ctx is only checked
// before sending.
func (s *SMTP) Notify(ctx context.Context, alert *Alert) error {
	if len(s.cfg.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	if err := s.send(addr, auth, s.cfg.From, s.cfg.To, buildMessage(s.cfg.From, s.cfg.To, alert)); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// Close implements Notifier.
func (s *SMTP) Close() error { return nil }

func buildMessage(from string, to []string, a *Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", a.Subject())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	fmt.Fprintf(&b, "A critical audit event was detected.\r\n\r\n")
	fmt.Fprintf(&b, "Threat:          %s (%s)\r\n", a.ThreatType, a.ThreatLevel)
	fmt.Fprintf(&b, "Detection rule:  %s (confidence %d)\r\n", a.DetectionRule, a.Confidence)
	fmt.Fprintf(&b, "Risk score:      %d\r\n", a.RiskScore)
	fmt.Fprintf(&b, "Actor:           %s\r\n", a.actor())
	fmt.Fprintf(&b, "IP address:      %s\r\n", a.IPAddress)
	fmt.Fprintf(&b, "Action:          %s\r\n", a.Action)
	fmt.Fprintf(&b, "Target:          %s %s\r\n", a.TargetType, a.TargetID)
	fmt.Fprintf(&b, "Audit event:     %s\r\n", a.AuditEventID)
	fmt.Fprintf(&b, "Detected at:     %s\r\n", a.DetectedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return []byte(b.String())
}

// sendMailTLS connects over implicit TLS (port 465). If the TLS dial fails it falls
// back to smtp.SendMail, which upgrades with STARTTLS when the server offers it.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
