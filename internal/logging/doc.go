// Package logging assembles structured slog loggers and formatting helpers used
// across candybridge components.
//
// It owns the console and JSON handlers, level and output plumbing, the
// standard field keys (component, event_type, error_hint, impact,
// correlation_id) and context helpers that tag log lines with the IPC request
// correlation ID. A no-op logger is provided for tests and for wiring code that
// must not fail when a logger is absent.
package logging
