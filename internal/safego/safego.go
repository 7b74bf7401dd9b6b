// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged with its stack rather than crashing the process. name identifies the
// goroutine in the log record (e.g. "audit-flush", "retention-run").
func Go(name string, fn func()) {
	go Run(name, fn)
}

// Run calls fn on the current goroutine and recovers any panic. It reports
// whether fn returned normally.
func Run(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"goroutine", name, "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}
