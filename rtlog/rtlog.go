// Package rtlog is the structured-logging façade shared by every package
// in this module (SPEC_FULL.md §4.13). It is a thin wrapper over
// github.com/joeycumines/logiface, using github.com/joeycumines/stumpy as
// the default JSON writer. The components that log — the scheduler
// (rejected timer-driven transitions), evloop (reap, fd and dispatch
// failures), monitor (preemption requests) and copool (task completion) —
// do so through this one structured, leveled interface instead of
// package-local fmt.Printf/log calls. Coroutine state transitions, the
// selector, and pool worker spawn/retire are not logged; an illegal
// coroutine transition is returned as a *coroutine.TransitionError.
package rtlog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the shared logger type: a logiface.Logger bound to stumpy's
// event implementation.
type Logger = logiface.Logger[*stumpy.Event]

// Builder is the fluent field-builder returned by Logger's level methods
// (Debug(), Info(), ...).
type Builder = logiface.Builder[*stumpy.Event]

var global struct {
	logger *Logger
}

func init() {
	global.logger = New(os.Stderr)
}

// New constructs a Logger writing newline-delimited JSON to w, at
// Informational level by default.
func New(w io.Writer) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(logiface.LevelInformational),
	)
}

// NewAtLevel is New with an explicit minimum level, e.g. LevelDebug during
// development.
func NewAtLevel(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// NewNoop constructs a Logger that discards all output, for tests and
// benchmarks that don't want logging overhead or noise.
func NewNoop() *Logger {
	return stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
}

// SetGlobal replaces the package-level default logger used by packages
// constructed without an explicit *Logger (e.g. via a nil rtconfig
// option). Intended for process-wide setup; not required by library
// callers that always pass their own Logger explicitly.
func SetGlobal(l *Logger) {
	if l == nil {
		l = NewNoop()
	}
	global.logger = l
}

// Global returns the current package-level default logger.
func Global() *Logger {
	return global.logger
}

// OrDefault returns l if non-nil, otherwise the current global default.
// Every constructor in this module that accepts an optional *Logger calls
// this so a nil logger option never causes a nil-pointer panic.
func OrDefault(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Global()
}

// Levels re-exported for convenience so callers configuring a Logger
// don't need to import logiface directly just for level constants.
const (
	LevelDisabled = logiface.LevelDisabled
	LevelDebug    = logiface.LevelDebug
	LevelInfo     = logiface.LevelInformational
	LevelWarn     = logiface.LevelWarning
	LevelError    = logiface.LevelError
)
