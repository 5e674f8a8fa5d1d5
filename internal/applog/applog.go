// SPDX-License-Identifier: Apache-2.0

// Package applog is the logger interface injected into the engine and
// its subsystems, so the core never talks to a global static logger.
// The production implementation is backed by pterm; tests supply a
// capturing implementation.
package applog

import (
	"github.com/google/uuid"
	"github.com/pterm/pterm"
)

// Logger is the minimal leveled-logging capability the core requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a Logger that prefixes every subsequent call with
	// the given key/value pairs, without mutating the receiver.
	With(args ...any) Logger
}

type ptermLogger struct {
	logger pterm.Logger
	prefix []any
}

// New returns a pterm-backed Logger tagged with a fresh run ID, so every
// line emitted by one command invocation can be correlated.
func New() Logger {
	return ptermLogger{logger: pterm.DefaultLogger}.With("run_id", uuid.NewString())
}

func (l ptermLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, l.logger.Args(l.merge(args)...))
}

func (l ptermLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(l.merge(args)...))
}

func (l ptermLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.logger.Args(l.merge(args)...))
}

func (l ptermLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.logger.Args(l.merge(args)...))
}

func (l ptermLogger) With(args ...any) Logger {
	return ptermLogger{logger: l.logger, prefix: l.merge(args)}
}

func (l ptermLogger) merge(args []any) []any {
	if len(l.prefix) == 0 {
		return args
	}
	out := make([]any, 0, len(l.prefix)+len(args))
	out = append(out, l.prefix...)
	out = append(out, args...)
	return out
}

// noopLogger discards everything; used by tests and any command path
// that wants to run silently.
type noopLogger struct{}

// NewNoop returns a Logger that discards all calls.
func NewNoop() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) With(...any) Logger   { return noopLogger{} }
