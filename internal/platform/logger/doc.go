// Package logger configures the process-wide slog handler (JSON by default,
// text when requested) and carries request-scoped loggers through context.
package logger
