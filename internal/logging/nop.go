// Package logging holds the logger backsync components fall back to when
// the caller configures none.
package logging

import "github.com/arloliu/backsync/types"

// NopLogger discards everything.
//
// Queues, the replay coordinator and the triggers log through
// types.Logger and install a NopLogger when none is configured, so their
// logging calls never check for nil.
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNopLogger returns a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l types.Logger) types.Logger {
	if l == nil {
		return NewNopLogger()
	}

	return l
}

func (l *NopLogger) Debug(_ string, _ ...any) {}

func (l *NopLogger) Info(_ string, _ ...any) {}

func (l *NopLogger) Warn(_ string, _ ...any) {}

func (l *NopLogger) Error(_ string, _ ...any) {}
