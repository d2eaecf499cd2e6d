// Package logrus adapts a logrus logger to the backsync Logger interface.
//
//	logger := logrus.New(lr.StandardLogger())
//	coord, _ := replay.New(store, fetcher, replay.WithLogger(logger))
//
// Key/value pairs become logrus fields. A trailing key without a value is
// logged under "!BADKEY", and non-string keys are formatted with %v.
package logrus

import (
	"fmt"

	lr "github.com/sirupsen/logrus"

	"github.com/arloliu/backsync/types"
)

// Logger implements types.Logger on top of a logrus entry.
type Logger struct {
	entry *lr.Entry
}

var _ types.Logger = (*Logger)(nil)

// New wraps logger. A nil logger uses logrus.StandardLogger().
func New(logger *lr.Logger) *Logger {
	if logger == nil {
		logger = lr.StandardLogger()
	}

	return &Logger{entry: lr.NewEntry(logger)}
}

// NewFromEntry wraps an entry, keeping its fields on every message.
func NewFromEntry(entry *lr.Entry) *Logger {
	return &Logger{entry: entry}
}

// With returns a logger that adds the given key/value pairs to every message.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(keysAndValues))}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.log(lr.DebugLevel, msg, keysAndValues)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.log(lr.InfoLevel, msg, keysAndValues)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.log(lr.WarnLevel, msg, keysAndValues)
}

// Error logs at error level.
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.log(lr.ErrorLevel, msg, keysAndValues)
}

func (l *Logger) log(level lr.Level, msg string, keysAndValues []any) {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}
	if len(keysAndValues) == 0 {
		l.entry.Log(level, msg)
		return
	}
	l.entry.WithFields(fields(keysAndValues)).Log(level, msg)
}

func fields(keysAndValues []any) lr.Fields {
	f := make(lr.Fields, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		var key string
		switch k := keysAndValues[i].(type) {
		case string:
			key = k
		default:
			key = fmt.Sprint(k)
		}

		if i+1 >= len(keysAndValues) {
			f["!BADKEY"] = key
			break
		}
		f[key] = keysAndValues[i+1]
	}

	return f
}
