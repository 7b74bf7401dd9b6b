package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// FallbackRecord is one line of the fallback log.
type FallbackRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	Event     interface{} `json:"event"`
	Error     string      `json:"error"`
	Stack     string      `json:"stack,omitempty"`
}

// FallbackLog is the append-only JSON-lines file used when persistence or notification
// fails. The file is opened on first write and rotated by size.
type FallbackLog struct {
	cfg  config.FallbackConfig
	file *os.File
	mu   sync.Mutex
	now  func() time.Time
}

// NewFallbackLog creates a fallback log for cfg.Path.
func NewFallbackLog(cfg config.FallbackConfig) *FallbackLog {
	return &FallbackLog{cfg: cfg, now: time.Now}
}

// Path returns the active file path.
func (f *FallbackLog) Path() string { return f.cfg.Path }

// Record appends {timestamp, event, error, stack} for subject and updates the fallback
// metric. The returned error is for the caller to log; it is never surfaced further.
func (f *FallbackLog) Record(subject interface{}, cause error) error {
	rec := FallbackRecord{
		Timestamp: f.now().UTC(),
		Event:     subject,
		Stack:     string(debug.Stack()),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	err := f.Append(rec)
	if err != nil {
		telemetry.AuditFallbackWritesTotal.WithLabelValues("failure").Inc()
		slog.Error("fallback log write failed", "path", f.cfg.Path, "error", err)
		return err
	}
	telemetry.AuditFallbackWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// Append writes rec as one line.
func (f *FallbackLog) Append(rec FallbackRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &SerializationError{Field: "fallback_record", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.open(); err != nil {
		return err
	}

	if f.cfg.MaxSizeMB > 0 {
		info, err := f.file.Stat()
		if err == nil && info.Size() > int64(f.cfg.MaxSizeMB)*1024*1024 {
			if err := f.rotate(); err != nil {
				slog.Warn("fallback log rotation failed", "path", f.cfg.Path, "error", err)
			}
		}
	}

	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write fallback record: %w", err)
	}
	return nil
}

func (f *FallbackLog) open() error {
	if f.file != nil {
		return nil
	}
	if f.cfg.Path == "" {
		return fmt.Errorf("fallback log path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(f.cfg.Path), 0o750); err != nil {
		return fmt.Errorf("failed to create fallback log directory: %w", err)
	}
	file, err := os.OpenFile(f.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open fallback log: %w", err)
	}
	f.file = file
	return nil
}

// rotate shifts path.N to path.N+1, moves the active file to path.1 and reopens.
func (f *FallbackLog) rotate() error {
	if err := f.file.Close(); err != nil {
		return err
	}
	f.file = nil

	for i := f.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", f.cfg.Path, i), fmt.Sprintf("%s.%d", f.cfg.Path, i+1))
	}
	_ = os.Rename(f.cfg.Path, f.cfg.Path+".1")
	if f.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", f.cfg.Path, f.cfg.MaxBackups+1))
	}
	return f.open()
}

// Close closes the underlying file, if open.
func (f *FallbackLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
