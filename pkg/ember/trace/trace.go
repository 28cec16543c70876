// Package trace is an optional debug hook for ember's internals. The
// core never logs (spec §7); Handler is a no-op until a caller installs
// one, mirroring how the teacher's pkg/cache guards its pressure
// callback rather than hard-wiring a logger.
package trace

import "sync/atomic"

// Event names one traced occurrence (e.g. "pager.spill", "wal.checkpoint").
type Event struct {
	Name   string
	Pgno   uint32
	Detail string
}

// Handler receives trace events when one is installed.
type Handler func(Event)

var handler atomic.Pointer[Handler]

// Set installs h as the active trace handler, or clears it if h is nil.
func Set(h Handler) {
	if h == nil {
		handler.Store(nil)
		return
	}
	handler.Store(&h)
}

// Emit delivers ev to the installed handler, if any. It is safe to call
// unconditionally from hot paths: with no handler installed this is a
// single atomic load and a return.
func Emit(ev Event) {
	if h := handler.Load(); h != nil {
		(*h)(ev)
	}
}
