// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured
// JSON or text logging with a level that can be changed at runtime, optional
// rotated file output, and request-scoped loggers carried in a context.
package logger
