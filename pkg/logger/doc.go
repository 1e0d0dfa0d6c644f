// Package logger provides structured logging with configurable log levels.
// It wraps the standard log/slog package: JSON records in production, text
// records elsewhere, each tagged with the service and environment.
package logger
