package types

// Logger is the structured logger used throughout backsync.
//
// Arguments after msg are alternating keys and values, matching the
// convention of log/slog and most structured loggers:
//
//	logger.Warn("replay failed", "queue", name, "id", id, "error", err.Error())
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
