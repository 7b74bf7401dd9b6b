// Package audit implements the tamper-evident, buffered audit trail. Security and
// compliance events are validated, enriched, risk scored and linked into a single
// process-wide hash chain, then batched to the database. High-risk events are flushed
// immediately and escalated as critical events. Audit records are kept separate from
// application logs: application logs are debug output, while audit records are
// immutable evidence that may be retained for years.
//
// A single goroutine owns the chain cursor and the buffer. Every Log call is a message
// to that goroutine, so two concurrent calls can never observe the same previous hash.
// Persistence and notification failures never reach the caller of Log; failed batches
// are requeued at the head of the buffer and copied to a local fallback log. A row the
// database refuses on its own is isolated, kept in the fallback log and recorded as a
// pruned link, so it never holds back the events queued behind it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audit-trail/audit-trail/internal/audit/notify"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/safego"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// EventStore is the persistence collaborator of the logger.
type EventStore interface {
	FailureHistory
	AppendBatch(ctx context.Context, events []*models.AuditEvent) error
	LastEventHash(ctx context.Context) (string, error)
	RecordPruned(ctx context.Context, pruned []*models.PrunedEvent) error
}

// Stats is a point-in-time view of the logger.
type Stats struct {
	Buffered  int    `json:"buffered"`
	Flushing  bool   `json:"flushing"`
	ChainHead string `json:"chain_head"`
	Algorithm string `json:"algorithm"`
}

type appendReq struct {
	event *models.AuditEvent
	reply chan error
}

type flushReq struct{ reply chan error }

type statsReq struct{ reply chan Stats }

type snapshotReq struct{ reply chan []*models.AuditEvent }

type shutdownReq struct{ reply chan error }

// flushResult reports a batch write. The first resolved events of batch were either
// written or rejected; the rest are requeued.
type flushResult struct {
	batch    []*models.AuditEvent
	resolved int
	rejected []rejection
	err      error
	duration time.Duration
}

type rejection struct {
	event *models.AuditEvent
	err   error
}

// Logger is the entry point of the audit pipeline.
type Logger struct {
	cfg       config.BufferConfig
	store     EventStore
	enricher  *Enricher
	scorer    *RiskScorer
	chain     *Chainer
	buffer    *Buffer
	fallback  *FallbackLog
	escalator *Escalator

	requests  chan interface{}
	flushDone chan flushResult
	stopped   chan struct{}

	// owned by the run goroutine
	flushing    bool
	flushAgain  bool
	waiters     []chan error
	nextWaiters []chan error

	mu     sync.RWMutex
	closed bool
}

// NewLogger builds the pipeline. When chain resume is enabled the last persisted event
// hash is loaded before any event is accepted; a failed lookup is an error because
// starting a fresh chain would break continuity.
func NewLogger(ctx context.Context, cfg *config.AuditConfig, store EventStore, criticals CriticalEventStore, notifier notify.Notifier) (*Logger, error) {
	previous := ""
	if cfg.Chain.ResumeOnStartup {
		h, err := store.LastEventHash(ctx)
		if err != nil {
			return nil, &PersistenceError{Op: "chain resume", Err: err}
		}
		previous = h
	}

	chain, err := NewChainer(cfg.Chain.Algorithm, previous)
	if err != nil {
		return nil, fmt.Errorf("invalid chain configuration: %w", err)
	}

	buf := cfg.Buffer
	if buf.FlushInterval <= 0 {
		buf.FlushInterval = 5 * time.Second
	}
	if buf.BatchSize <= 0 {
		buf.BatchSize = 100
	}
	if buf.WriteChunkSize <= 0 {
		buf.WriteChunkSize = 50
	}
	if buf.FlushThreshold <= 0 {
		buf.FlushThreshold = 50
	}
	if buf.WriteTimeout <= 0 {
		buf.WriteTimeout = 10 * time.Second
	}

	fallback := NewFallbackLog(cfg.Fallback)
	l := &Logger{
		cfg:       buf,
		store:     store,
		enricher:  NewEnricher(),
		scorer:    NewRiskScorer(cfg.Risk, store),
		chain:     chain,
		buffer:    NewBuffer(buf.MaxBuffered),
		fallback:  fallback,
		escalator: NewEscalator(cfg.Escalation, criticals, notifier, fallback),
		requests:  make(chan interface{}),
		flushDone: make(chan flushResult, 1),
		stopped:   make(chan struct{}),
	}

	if previous != "" {
		slog.Info("audit chain resumed", "previous_hash", previous, "algorithm", chain.Algorithm())
	} else {
		slog.Info("audit chain starting fresh", "algorithm", chain.Algorithm())
	}
	return l, nil
}

// Start launches the logger and escalator goroutines. Log must not be called before
// Start.
func (l *Logger) Start() {
	l.escalator.Start()
	safego.Go("audit-logger", l.run)
}

// ApplyRiskConfig re-applies the hot-reloadable risk settings.
func (l *Logger) ApplyRiskConfig(cfg config.RiskConfig) {
	l.scorer.SetBusinessHours(cfg)
}

// Algorithm returns the chain hash algorithm.
func (l *Logger) Algorithm() string { return l.chain.Algorithm() }

// Log validates, enriches, scores and chains the event and buffers it for writing. It
// returns the assigned id. An event that cannot be buffered (capacity, or a Shutdown
// racing the call) is written to the fallback log and its id is still returned. The
// only errors are *ValidationError, ErrLoggerClosed when Shutdown had already started,
// and ErrNotRecorded when the event could neither be buffered nor written to the
// fallback log. Log never panics.
func (l *Logger) Log(ctx context.Context, in *Event) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in audit log call", "panic", r)
			telemetry.AuditEventsRejectedTotal.WithLabelValues("panic").Inc()
			id, err = "", ErrNotRecorded
		}
	}()

	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		telemetry.AuditEventsRejectedTotal.WithLabelValues("closed").Inc()
		return "", ErrLoggerClosed
	}

	ev, err := l.enricher.Enrich(in)
	if err != nil {
		telemetry.AuditEventsRejectedTotal.WithLabelValues("validation").Inc()
		return "", err
	}

	risk := l.scorer.Score(ctx, ev)
	ev.RiskScore = risk.Score

	// The caller's ctx is not consulted past this point: a scored event always ends up
	// in the buffer or the fallback log.
	var bufErr error
	reply := make(chan error, 1)
	select {
	case l.requests <- appendReq{event: ev, reply: reply}:
		bufErr = <-reply
	case <-l.stopped:
		bufErr = ErrLoggerClosed
	}

	if bufErr != nil {
		reason := "buffer"
		var capErr *CapacityError
		switch {
		case errors.As(bufErr, &capErr):
			reason = "capacity"
		case errors.Is(bufErr, ErrLoggerClosed):
			reason = "closed"
		}
		telemetry.AuditEventsRejectedTotal.WithLabelValues(reason).Inc()
		slog.Warn("audit event not buffered, writing to fallback log", "event_id", ev.ID, "error", bufErr)
		if ferr := l.fallback.Record(ev, bufErr); ferr != nil {
			return "", ErrNotRecorded
		}
		if errors.Is(bufErr, ErrLoggerClosed) {
			return ev.ID, nil
		}
	} else {
		telemetry.AuditEventsLoggedTotal.WithLabelValues(ev.EventCategory, string(ev.EventSeverity)).Inc()
	}

	if d, ok := Detect(ev, risk.RecentFailures); ok {
		l.escalator.Submit(ev, d)
	}
	return ev.ID, nil
}

// FlushNow requests a flush and waits for it. If a flush is already running, it waits
// for that flush instead of starting another.
func (l *Logger) FlushNow(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case l.requests <- flushReq{reply: reply}:
	case <-l.stopped:
		return ErrLoggerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the buffer depth and chain head.
func (l *Logger) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case l.requests <- statsReq{reply: reply}:
	case <-l.stopped:
		return Stats{}, ErrLoggerClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	return <-reply, nil
}

// Pending returns a copy of the buffered events in order.
func (l *Logger) Pending(ctx context.Context) ([]*models.AuditEvent, error) {
	reply := make(chan []*models.AuditEvent, 1)
	select {
	case l.requests <- snapshotReq{reply: reply}:
	case <-l.stopped:
		return nil, ErrLoggerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-reply, nil
}

// Shutdown stops accepting events, waits for any running flush, drains the buffer and
// stops the escalator. Events that cannot be written are left in the fallback log.
func (l *Logger) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()
	if already {
		select {
		case <-l.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	reply := make(chan error, 1)
	select {
	case l.requests <- shutdownReq{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	var drainErr error
	select {
	case drainErr = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}

	escErr := l.escalator.Stop(ctx)
	closeErr := l.fallback.Close()
	return errors.Join(drainErr, escErr, closeErr)
}

func (l *Logger) run() {
	defer close(l.stopped)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-l.requests:
			switch r := msg.(type) {
			case appendReq:
				r.reply <- l.enqueue(r.event)
			case flushReq:
				l.startFlush(r.reply)
			case statsReq:
				r.reply <- Stats{
					Buffered:  l.buffer.Len(),
					Flushing:  l.flushing,
					ChainHead: l.chain.Previous(),
					Algorithm: l.chain.Algorithm(),
				}
			case snapshotReq:
				r.reply <- l.buffer.Snapshot()
			case shutdownReq:
				r.reply <- l.drain()
				return
			}
		case res := <-l.flushDone:
			l.finishFlush(res)
		case <-ticker.C:
			l.startFlush(nil)
		}
	}
}

// enqueue checks capacity before touching the cursor, so a rejected event never
// advances the chain.
func (l *Logger) enqueue(ev *models.AuditEvent) error {
	if err := l.buffer.CheckCapacity(); err != nil {
		return err
	}
	if err := l.chain.Link(ev); err != nil {
		return err
	}
	l.buffer.Push(ev)
	telemetry.AuditBufferDepth.Set(float64(l.buffer.Len()))

	if immediateFlush(ev) || l.buffer.Len() >= l.cfg.FlushThreshold {
		l.startFlush(nil)
	}
	return nil
}

// startFlush takes one batch from the head and writes it on a separate goroutine. A
// request arriving while a flush is running does not start a concurrent one; it is
// served by a follow-up flush once the running one succeeds.
func (l *Logger) startFlush(waiter chan error) {
	if l.flushing {
		if waiter != nil {
			l.nextWaiters = append(l.nextWaiters, waiter)
		}
		l.flushAgain = true
		return
	}
	var waiters []chan error
	if waiter != nil {
		waiters = []chan error{waiter}
	}
	l.beginFlush(waiters)
}

func (l *Logger) beginFlush(waiters []chan error) {
	batch := l.buffer.Take(l.cfg.BatchSize)
	if len(batch) == 0 {
		notifyAll(waiters, nil)
		return
	}
	l.flushing = true
	l.waiters = waiters

	go func() {
		var res flushResult
		if !safego.Run("audit-flush", func() { res = l.writeBatch(batch) }) {
			res = flushResult{batch: batch, err: &PersistenceError{Op: "append batch", Err: errFlushPanicked}}
		}
		l.flushDone <- res
	}()
}

// writeBatch writes batch in chunks. A failed chunk is retried row by row so that rows
// the database refuses are isolated; writing stops at the first unresolved failure.
func (l *Logger) writeBatch(batch []*models.AuditEvent) flushResult {
	start := time.Now()
	res := flushResult{batch: batch}
	for i := 0; i < len(batch); i += l.cfg.WriteChunkSize {
		end := min(i+l.cfg.WriteChunkSize, len(batch))
		if err := l.append(batch[i:end]); err == nil {
			res.resolved = end
			continue
		}

		resolved, rejected, err := l.writeRows(batch[i:end])
		res.resolved = i + resolved
		res.rejected = append(res.rejected, rejected...)
		if err != nil {
			res.err = &PersistenceError{Op: "append batch", Err: err}
			break
		}
	}
	l.recordRejected(res.rejected)
	res.duration = time.Since(start)
	return res
}

func (l *Logger) append(events []*models.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()
	return l.store.AppendBatch(ctx, events)
}

// writeRows writes chunk one row at a time. A row is rejected when the store reports it
// as refused, or when it failed and the next row was then accepted, which shows the
// failure was specific to the row. Two unexplained failures in a row mean the store is
// unavailable: writing stops and the unresolved rows stay queued. It returns how many
// leading rows of chunk were resolved.
func (l *Logger) writeRows(chunk []*models.AuditEvent) (int, []rejection, error) {
	var (
		resolved int
		rejected []rejection
		pending  *rejection
	)
	for i, ev := range chunk {
		err := l.append([]*models.AuditEvent{ev})
		switch {
		case err == nil || isRejectedRow(err):
			if pending != nil {
				rejected = append(rejected, *pending)
				pending = nil
			}
			if err != nil {
				rejected = append(rejected, rejection{event: ev, err: err})
			}
			resolved = i + 1
		case pending != nil:
			return resolved, rejected, pending.err
		default:
			pending = &rejection{event: ev, err: err}
		}
	}
	if pending != nil {
		return resolved, rejected, pending.err
	}
	return resolved, rejected, nil
}

// isRejectedRow reports whether err marks a row the store will never accept.
func isRejectedRow(err error) bool {
	var r interface{ Rejected() bool }
	return errors.As(err, &r) && r.Rejected()
}

// recordRejected stores the pruned links of rejected rows so chain verification can
// bridge them. The rows themselves are kept in the fallback log by finishFlush.
func (l *Logger) recordRejected(rejected []rejection) {
	if len(rejected) == 0 {
		return
	}
	pruned := make([]*models.PrunedEvent, 0, len(rejected))
	for _, r := range rejected {
		pruned = append(pruned, models.PrunedFrom(r.event, models.PruneRejected))
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()
	if err := l.store.RecordPruned(ctx, pruned); err != nil {
		slog.Error("failed to record pruned links for rejected audit events",
			"count", len(pruned), "error", &PersistenceError{Op: "record pruned", Err: err})
	}
}

// finishFlush requeues the unresolved tail of a failed batch at the head of the buffer,
// in order, and copies each of those events to the fallback log. Rejected rows are
// dropped from the buffer and kept in the fallback log only.
func (l *Logger) finishFlush(res flushResult) {
	l.flushing = false
	telemetry.AuditFlushDuration.Observe(res.duration.Seconds())

	for _, r := range res.rejected {
		telemetry.AuditEventsRejectedTotal.WithLabelValues("store").Inc()
		slog.Error("audit event refused by the database, kept in fallback log",
			"event_id", r.event.ID, "event_type", r.event.EventType, "error", r.err)
		_ = l.fallback.Record(r.event, &PersistenceError{Op: "append event", Err: r.err})
	}

	if res.err == nil {
		telemetry.AuditFlushTotal.WithLabelValues("success").Inc()
		slog.Debug("audit batch flushed", "batch_size", len(res.batch), "rejected", len(res.rejected), "duration", res.duration)
	} else {
		failed := res.batch[res.resolved:]
		l.buffer.Requeue(failed)
		result := "failure"
		if res.resolved > 0 {
			result = "partial"
		}
		telemetry.AuditFlushTotal.WithLabelValues(result).Inc()
		slog.Error("audit batch flush failed, events requeued",
			"batch_size", len(res.batch), "resolved", res.resolved, "requeued", len(failed), "error", res.err)
		for _, ev := range failed {
			_ = l.fallback.Record(ev, res.err)
		}
	}
	telemetry.AuditBufferDepth.Set(float64(l.buffer.Len()))
	notifyAll(l.waiters, res.err)
	l.waiters = nil

	next := l.nextWaiters
	again := l.flushAgain
	l.nextWaiters, l.flushAgain = nil, false
	switch {
	case res.err != nil:
		// the next timer tick retries
		notifyAll(next, res.err)
	case again || l.buffer.Len() >= l.cfg.FlushThreshold:
		l.beginFlush(next)
	default:
		notifyAll(next, nil)
	}
}

func notifyAll(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}

// drain waits for a running flush, then flushes until the buffer is empty or a write
// fails. Events never attempted are copied to the fallback log as well.
func (l *Logger) drain() error {
	var err error
	for l.buffer.Len() > 0 || l.flushing {
		l.startFlush(nil)
		res := <-l.flushDone
		l.finishFlush(res)
		if res.err != nil {
			err = res.err
			// finishFlush already recorded the failed part of this batch
			rest := l.buffer.Snapshot()[len(res.batch)-res.resolved:]
			for _, ev := range rest {
				_ = l.fallback.Record(ev, fmt.Errorf("shutdown with unflushed events: %w", err))
			}
			break
		}
	}
	slog.Info("audit logger drained", "remaining", l.buffer.Len())
	return err
}
